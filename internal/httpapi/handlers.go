package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/authz"
	"brfportal.se/internal/coop"
	"brfportal.se/internal/obs"
	"brfportal.se/internal/ratelimit"
	"brfportal.se/internal/store/pg"
	"brfportal.se/internal/tenant"
)

// ReadyProbe pings the datastore for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authorization core.
type API struct {
	router       chi.Router
	readyProbe   ReadyProbe
	version      string
	resolver     *auth.Resolver
	sessions     *auth.SessionService
	tokens       *auth.TokenService
	switcher     *coop.Switcher
	auditor      *audit.Service
	store        *pg.Store
	authStore    auth.Store
	loginLimiter *ratelimit.Limiter
	edgeRPS      int
	edgeBurst    int
}

// Config carries the wired core services into the API.
type Config struct {
	ReadyProbe   ReadyProbe
	Version      string
	Resolver     *auth.Resolver
	Sessions     *auth.SessionService
	Tokens       *auth.TokenService
	Switcher     *coop.Switcher
	Auditor      *audit.Service
	Store        *pg.Store
	AuthStore    auth.Store
	LoginLimiter *ratelimit.Limiter
	// EdgeRPS/EdgeBurst enable the per-IP request shed at the HTTP edge
	// when EdgeRPS is positive.
	EdgeRPS   int
	EdgeBurst int
}

// New builds the router. Routes are grouped by the authorization rules that
// gate them; identity resolution happens once per request in the middleware.
func New(cfg Config) *API {
	a := &API{
		router:       chi.NewRouter(),
		readyProbe:   cfg.ReadyProbe,
		version:      cfg.Version,
		resolver:     cfg.Resolver,
		sessions:     cfg.Sessions,
		tokens:       cfg.Tokens,
		switcher:     cfg.Switcher,
		auditor:      cfg.Auditor,
		store:        cfg.Store,
		authStore:    cfg.AuthStore,
		loginLimiter: cfg.LoginLimiter,
		edgeRPS:      cfg.EdgeRPS,
		edgeBurst:    cfg.EdgeBurst,
	}

	r := a.router

	// health/ready/info + metrics stay public.
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	// Session lifecycle: login is public (and separately rate limited),
	// refresh and logout authenticate via the presented token itself.
	r.Post("/v1/auth/login", a.handleLogin)
	r.Post("/v1/auth/refresh", a.handleRefresh)
	r.Post("/v1/auth/logout", a.handleLogout)

	identified := func(rules ...authz.Rule) func(http.Handler) http.Handler {
		return authz.Middleware(a.resolver, a.auditor, rules...)
	}

	r.Group(func(r chi.Router) {
		r.Use(identified())
		r.Get("/v1/cooperatives/available", a.handleAvailableCooperatives)
		r.Get("/v1/switch/{cooperativeID}", a.handleCanSwitch)
		r.Post("/v1/switch", a.handleSwitch)
		r.Get("/v1/documents", a.handleListDocuments)
		r.Get("/v1/documents/{documentID}/references", a.handleListDocumentReferences)
	})

	r.Group(func(r chi.Router) {
		r.Use(identified(authz.Require(auth.PermViewMembers)))
		r.Get("/v1/members", a.handleListMembers)
		r.Get("/v1/cooperatives/{cooperativeID}/members", a.handleListMembersByCoop)
		r.Get("/v1/members/{memberID}", a.handleGetMember)
	})

	r.Group(func(r chi.Router) {
		r.Use(identified(authz.Require(auth.PermManageMembers)))
		r.Patch("/v1/members/{memberID}", a.handleUpdateMemberEmail)
		r.Delete("/v1/members/{memberID}", a.handleDeleteMember)
	})

	r.Group(func(r chi.Router) {
		r.Use(identified(authz.Require(auth.PermManageDocuments)))
		r.Post("/v1/documents/{documentID}/references", a.handleAddDocumentReference)
	})

	r.Group(func(r chi.Router) {
		r.Use(identified(authz.Require(auth.PermViewAuditLog)))
		r.Get("/v1/audit", a.handleAuditQuery)
		r.Post("/v1/audit/{eventID}/annotations", a.handleAnnotateAudit)
	})

	// Cross-tenant admin surface: explicit any-of, no implicit widening.
	r.Group(func(r chi.Router) {
		r.Use(identified(authz.OrHierarchy(authz.Require(auth.PermCrossTenant), auth.RoleAdmin)))
		r.Get("/v1/admin/cooperatives", a.handleAdminListCooperatives)
		r.Get("/v1/admin/members", a.handleAdminListMembers)
		r.Post("/v1/admin/audit/purge", a.handleAuditPurge)
	})

	return a
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	if a.edgeRPS > 0 {
		h = RateLimit(h, a.edgeBurst, a.edgeRPS)
	}
	h = LoggingJSON(h)
	h = obs.Instrument(h)
	h = RequestID(h)
	return h
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "brfportal-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "brfportal-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeDenied sends the shared generic denial. Missing users, inactive
// users and failed permission checks are indistinguishable here.
func writeDenied(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusForbidden, "access denied")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func identityOrDeny(w http.ResponseWriter, r *http.Request) (*auth.Context, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return identity, true
}

func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *ratelimit.LimitError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
		writeError(w, r, http.StatusTooManyRequests, "too many attempts")
	case auth.IsDenied(err), errors.Is(err, tenant.ErrAccessDenied):
		writeDenied(w, r)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid request")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// retryAfterSeconds rounds up so the client never retries inside the window.
func retryAfterSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
