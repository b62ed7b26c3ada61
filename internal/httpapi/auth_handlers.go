package httpapi

import (
	"net/http"
	"strings"
	"time"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionToken  string    `json:"session_token"`
	AccessToken   string    `json:"access_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	CooperativeID string    `json:"cooperative_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	meta := auth.RequestMeta{
		RequestID: RequestIDFromContext(r.Context()),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}

	if a.loginLimiter != nil {
		if err := a.loginLimiter.Allow("login:" + meta.IP); err != nil {
			_ = a.auditor.Record(r.Context(), &audit.Event{
				Category:  audit.CategoryAuthResolution,
				Action:    "auth.login.rate_limited",
				RequestID: meta.RequestID,
				IP:        meta.IP,
				UserAgent: meta.UserAgent,
			})
			handleCoreError(w, r, err)
			return
		}
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sessionToken, session, err := a.sessions.Login(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		_ = a.auditor.Record(r.Context(), &audit.Event{
			Category:  audit.CategoryAuthResolution,
			Action:    "auth.login.failed",
			RequestID: meta.RequestID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
		// Unknown email, wrong password and inactive account all collapse
		// into the same response.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Reset("login:" + meta.IP)
	}

	accessToken, expiresAt, err := a.tokens.Generate(session.UserID, session.CooperativeID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = a.auditor.Record(r.Context(), &audit.Event{
		Category:      audit.CategoryAuthResolution,
		Action:        "auth.login.ok",
		ActorUserID:   session.UserID,
		CooperativeID: session.CooperativeID,
		TargetType:    "session",
		TargetID:      session.ID,
		RequestID:     meta.RequestID,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
	})

	http.SetCookie(w, sessionCookie(sessionToken, session.ExpiresAt))
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken:  sessionToken,
		AccessToken:   accessToken,
		ExpiresAt:     expiresAt,
		CooperativeID: session.CooperativeID,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := sessionTokenFromRequest(r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	newToken, session, err := a.sessions.Refresh(r.Context(), raw)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	accessToken, expiresAt, err := a.tokens.Generate(session.UserID, session.CooperativeID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	http.SetCookie(w, sessionCookie(newToken, session.ExpiresAt))
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken:  newToken,
		AccessToken:   accessToken,
		ExpiresAt:     expiresAt,
		CooperativeID: session.CooperativeID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := sessionTokenFromRequest(r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	// ?all=true tears down every session of the user, not just this one.
	if r.URL.Query().Get("all") == "true" {
		if _, err := a.sessions.LogoutAll(r.Context(), raw); err != nil {
			handleCoreError(w, r, err)
			return
		}
		http.SetCookie(w, expiredSessionCookie())
		writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out_all"})
		return
	}

	if err := a.sessions.Logout(r.Context(), raw); err != nil {
		handleCoreError(w, r, err)
		return
	}
	http.SetCookie(w, expiredSessionCookie())
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func sessionTokenFromRequest(r *http.Request) string {
	creds := authz.CredentialsFromRequest(r)
	return strings.TrimSpace(creds.SessionToken)
}

func sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     "brf_session",
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

func expiredSessionCookie() *http.Cookie {
	c := sessionCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}
