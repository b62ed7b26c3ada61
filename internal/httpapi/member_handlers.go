package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/tenant"
)

func scopeFor(identity *auth.Context) tenant.Scope {
	return tenant.Scope{CooperativeID: identity.CooperativeID}
}

func (a *API) recordDataAccess(r *http.Request, identity *auth.Context, action, targetType, targetID string) {
	_ = a.auditor.Record(r.Context(), &audit.Event{
		Category:      audit.CategoryDataAccess,
		Action:        action,
		ActorUserID:   identity.UserID,
		CooperativeID: identity.CooperativeID,
		TargetType:    targetType,
		TargetID:      targetID,
		RequestID:     RequestIDFromContext(r.Context()),
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	members, err := a.store.ListMembers(r.Context(), scopeFor(identity), r.URL.Query().Get("apartment"))
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.recordDataAccess(r, identity, "members.list", "member", "")
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// handleListMembersByCoop serves the route that names a cooperative in the
// path. The path parameter never widens the scope: it is cross-checked
// against the resolved identity and a mismatch is a denial, not a redirect.
func (a *API) handleListMembersByCoop(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	scope := scopeFor(identity)
	if err := scope.CrossCheck(chi.URLParam(r, "cooperativeID")); err != nil {
		a.recordDataAccess(r, identity, "members.list.cross_tenant_denied", "cooperative", chi.URLParam(r, "cooperativeID"))
		writeDenied(w, r)
		return
	}
	members, err := a.store.ListMembers(r.Context(), scope, r.URL.Query().Get("apartment"))
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.recordDataAccess(r, identity, "members.list", "member", "")
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleGetMember(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "memberID")
	member, err := a.store.FindMember(r.Context(), scopeFor(identity), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.recordDataAccess(r, identity, "members.get", "member", id)
	writeJSON(w, http.StatusOK, member)
}

type updateMemberRequest struct {
	Email string `json:"email"`
}

func (a *API) handleUpdateMemberEmail(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	var req updateMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	id := chi.URLParam(r, "memberID")
	affected, err := a.store.UpdateMemberEmail(r.Context(), scopeFor(identity), id, req.Email)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if affected == 0 {
		// Out-of-scope and nonexistent rows are the same zero.
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	a.recordDataAccess(r, identity, "members.update_email", "member", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (a *API) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "memberID")
	affected, err := a.store.SoftDeleteMember(r.Context(), scopeFor(identity), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	if affected == 0 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	a.recordDataAccess(r, identity, "members.soft_delete", "member", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	docs, err := a.store.ListDocuments(r.Context(), scopeFor(identity), r.URL.Query().Get("category"))
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *API) handleListDocumentReferences(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "documentID")
	refs, err := a.store.DocumentReferences(r.Context(), scopeFor(identity), id)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"references": refs})
}

type addReferenceRequest struct {
	ToDocumentID string `json:"to_document_id"`
}

// handleAddDocumentReference links two documents. The insert itself verifies
// both rows belong to the caller's cooperative, so a foreign target id fails
// closed regardless of what the client claims.
func (a *API) handleAddDocumentReference(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	var req addReferenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ToDocumentID == "" {
		writeError(w, r, http.StatusBadRequest, "to_document_id is required")
		return
	}
	fromID := chi.URLParam(r, "documentID")
	if err := a.store.AddDocumentReference(r.Context(), scopeFor(identity), fromID, req.ToDocumentID); err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.recordDataAccess(r, identity, "documents.add_reference", "document", fromID)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created"})
}
