package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type availableCooperative struct {
	CooperativeID string `json:"cooperative_id"`
	Role          string `json:"role"`
	Active        bool   `json:"active"`
	Current       bool   `json:"current"`
}

// handleAvailableCooperatives lists the cooperatives the caller may switch
// into. This is the one read that ranges over memberships instead of the
// active cooperative scope.
func (a *API) handleAvailableCooperatives(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	memberships, err := a.authStore.Memberships(r.Context()).ForUser(r.Context(), identity.UserID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	out := make([]availableCooperative, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, availableCooperative{
			CooperativeID: m.CooperativeID,
			Role:          m.Role.String(),
			Active:        m.Active,
			Current:       m.CooperativeID == identity.CooperativeID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cooperatives": out})
}

// handleCanSwitch is a dry-run probe: it reports whether a switch would be
// allowed without changing anything.
func (a *API) handleCanSwitch(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "cooperativeID")
	if targetID == "" {
		writeError(w, r, http.StatusBadRequest, "cooperative id is required")
		return
	}
	decision, err := a.switcher.CanSwitch(r.Context(), identity.UserID, targetID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type switchRequest struct {
	CooperativeID string `json:"cooperative_id"`
}

type switchResponse struct {
	Status            string `json:"status"`
	FromCooperativeID string `json:"from_cooperative_id"`
	ToCooperativeID   string `json:"to_cooperative_id"`
	Reason            string `json:"reason"`
	AccessToken       string `json:"access_token,omitempty"`
}

// handleSwitch applies a cooperative context switch. On success the response
// carries a fresh access token scoped to the new cooperative. Old tokens
// follow it too: the resolver re-reads the active cooperative from the user
// row on every request, so no token retains the previous scope.
func (a *API) handleSwitch(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrDeny(w, r)
	if !ok {
		return
	}
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CooperativeID == "" {
		writeError(w, r, http.StatusBadRequest, "cooperative id is required")
		return
	}

	entry, err := a.switcher.Switch(r.Context(), identity, req.CooperativeID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}

	resp := switchResponse{
		Status:            "applied",
		FromCooperativeID: entry.FromCooperativeID,
		ToCooperativeID:   entry.ToCooperativeID,
		Reason:            entry.Reason,
	}
	if token, _, err := a.tokens.Generate(identity.UserID, entry.ToCooperativeID); err == nil {
		resp.AccessToken = token
	}
	writeJSON(w, http.StatusOK, resp)
}
