package authz

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/obs"
	"brfportal.se/internal/ratelimit"
)

const sessionCookie = "brf_session"

// Middleware wraps a handler with identity resolution and an ordered rule
// pipeline. Resolution failure ends the request with 401 (or 429 when rate
// limited); the first failing rule ends it with 403 and one authz_denied
// audit event. The wrapped handler only ever runs after every gate passed,
// with the resolved identity injected into the request context.
func Middleware(resolver *auth.Resolver, recorder audit.Recorder, rules ...Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				resolved, err := resolver.Resolve(r.Context(), CredentialsFromRequest(r))
				if err != nil {
					denyResolution(w, r, err)
					return
				}
				identity = resolved
				r = r.WithContext(auth.ContextWithIdentity(r.Context(), identity))
			}

			for _, rule := range rules {
				if rule.Evaluate(identity) {
					continue
				}
				obs.CountAuthzDenial(string(rule.Kind()))
				if recorder != nil {
					_ = recorder.Record(r.Context(), &audit.Event{
						Category:      audit.CategoryAuthzDenied,
						Action:        "authz.denied",
						ActorUserID:   identity.UserID,
						ActorRole:     identity.Role.String(),
						CooperativeID: identity.CooperativeID,
						TargetType:    "route",
						TargetID:      r.Method + " " + r.URL.Path,
						After:         ruleJSON(rule),
						RequestID:     identity.Meta.RequestID,
						IP:            identity.Meta.IP,
						UserAgent:     identity.Meta.UserAgent,
					})
				}
				writeDenied(w, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CredentialsFromRequest extracts bearer and session credentials plus client
// metadata from the request.
func CredentialsFromRequest(r *http.Request) auth.Credentials {
	creds := auth.Credentials{
		Meta: auth.RequestMeta{
			RequestID: audit.RequestIDFromContext(r.Context()),
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		const prefix = "bearer "
		if strings.HasPrefix(strings.ToLower(header), prefix) {
			creds.BearerToken = strings.TrimSpace(header[len(prefix):])
		}
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		creds.SessionToken = cookie.Value
	} else if h := strings.TrimSpace(r.Header.Get("X-Session-Token")); h != "" {
		creds.SessionToken = h
	}
	return creds
}

func denyResolution(w http.ResponseWriter, r *http.Request, err error) {
	var limited *ratelimit.LimitError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds()+0.999)))
		writeBody(w, http.StatusTooManyRequests, "too many attempts")
	case auth.IsDenied(err):
		// UserNotFound and UserInactive land here: same status, same body.
		writeDenied(w, http.StatusForbidden)
	default:
		w.Header().Set("WWW-Authenticate", `Bearer realm="brfportal"`)
		writeBody(w, http.StatusUnauthorized, "authentication required")
	}
}

// writeDenied sends the shared generic denial body. It never names the
// failing rule or distinguishes missing users from missing permissions.
func writeDenied(w http.ResponseWriter, code int) {
	writeBody(w, code, "access denied")
}

func writeBody(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

func ruleJSON(rule Rule) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]string{"rule": rule.Describe()})
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
