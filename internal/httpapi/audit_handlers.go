package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/tenant"
)

// handleAuditQuery returns audit events for the caller's cooperative.
// ?all=true widens the query to every tenant, which requires the explicit
// cross-tenant grant on top of the route's permission check.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}

	q := audit.Query{
		CooperativeID: identity.CooperativeID,
		ActorUserID:   r.URL.Query().Get("actor"),
		Category:      r.URL.Query().Get("category"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		q.From = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		q.To = t
	}

	var (
		events []audit.Event
		err    error
	)
	if r.URL.Query().Get("all") == "true" {
		grant, gerr := crossTenantGrant(identity)
		if gerr != nil {
			writeDenied(w, r)
			return
		}
		q.CooperativeID = ""
		events, err = a.auditor.ListAllTenants(r.Context(), grant.ActorID(), q)
	} else {
		events, err = a.auditor.List(r.Context(), q)
	}
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAdminListCooperatives enumerates every tenant. The route rule already
// requires admin or the cross-tenant permission; the grant re-derives that
// from the identity so the store call cannot be reached by accident.
func (a *API) handleAdminListCooperatives(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	grant, err := crossTenantGrant(identity)
	if err != nil {
		writeDenied(w, r)
		return
	}

	coops, err := a.authStore.Cooperatives(r.Context()).List(r.Context())
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = a.auditor.Record(r.Context(), &audit.Event{
		Category:      audit.CategoryCrossTenantAccess,
		Action:        "admin.cooperatives.list",
		ActorUserID:   grant.ActorID(),
		CooperativeID: identity.CooperativeID,
		TargetType:    "cooperative",
		RequestID:     RequestIDFromContext(r.Context()),
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"cooperatives": coops})
}

// handleAdminListMembers lists members across every cooperative through the
// audited bypass path.
func (a *API) handleAdminListMembers(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	grant, err := crossTenantGrant(identity)
	if err != nil {
		writeDenied(w, r)
		return
	}

	members, err := a.store.ListMembersAllTenants(r.Context(), grant)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = a.auditor.Record(r.Context(), &audit.Event{
		Category:      audit.CategoryCrossTenantAccess,
		Action:        "admin.members.list",
		ActorUserID:   grant.ActorID(),
		ActorRole:     identity.Role.String(),
		CooperativeID: identity.CooperativeID,
		TargetType:    "member",
		RequestID:     RequestIDFromContext(r.Context()),
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

type annotateRequest struct {
	Note string `json:"note"`
}

// handleAnnotateAudit links a note event to an existing one. The original
// record is never touched.
func (a *API) handleAnnotateAudit(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	var req annotateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		writeError(w, r, http.StatusBadRequest, "note is required")
		return
	}

	eventID := chi.URLParam(r, "eventID")
	note, _ := json.Marshal(map[string]string{"note": req.Note})
	err := a.auditor.Annotate(r.Context(), eventID, &audit.Event{
		Category:      audit.CategoryAdminMutation,
		Action:        "audit.annotate",
		ActorUserID:   identity.UserID,
		ActorRole:     identity.Role.String(),
		CooperativeID: identity.CooperativeID,
		TargetType:    "audit_event",
		TargetID:      eventID,
		After:         note,
		RequestID:     RequestIDFromContext(r.Context()),
		IP:            clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, audit.ErrInvalidEvent) {
			writeError(w, r, http.StatusBadRequest, "invalid annotation")
			return
		}
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "annotated"})
}

type purgeRequest struct {
	Before string `json:"before"`
}

// handleAuditPurge applies the retention policy up to the given cutoff.
func (a *API) handleAuditPurge(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	var req purgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cutoff, err := time.Parse(time.RFC3339, req.Before)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "before must be RFC 3339")
		return
	}

	purged, err := a.auditor.PurgeBefore(r.Context(), identity.UserID, cutoff)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func crossTenantGrant(identity *auth.Context) (tenant.Grant, error) {
	permitted := identity.IsAtLeast(auth.RoleAdmin) || identity.Can(auth.PermCrossTenant)
	return tenant.NewGrant(identity.UserID, permitted)
}
