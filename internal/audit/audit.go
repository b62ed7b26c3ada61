// Package audit maintains the append-only trail of authorization decisions,
// sensitive data access and administrative mutations. Events are immutable
// once written; annotations link a new event to the original instead of
// mutating it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"brfportal.se/internal/ids"
	"brfportal.se/internal/obs"
	"brfportal.se/internal/tenant"
)

// Event categories. Every authorization decision and sensitive operation
// maps onto exactly one of these.
const (
	CategoryAuthResolution    = "auth_resolution"
	CategoryAuthzDenied       = "authz_denied"
	CategoryCoopSwitch        = "coop_switch"
	CategoryDataAccess        = "data_access"
	CategoryAdminMutation     = "admin_mutation"
	CategoryCrossTenantAccess = "cross_tenant_access"
	CategoryRetentionPurge    = "retention_purge"
)

var validCategories = map[string]struct{}{
	CategoryAuthResolution:    {},
	CategoryAuthzDenied:       {},
	CategoryCoopSwitch:        {},
	CategoryDataAccess:        {},
	CategoryAdminMutation:     {},
	CategoryCrossTenantAccess: {},
	CategoryRetentionPurge:    {},
}

var (
	// ErrInvalidEvent means the event failed shape validation before write.
	ErrInvalidEvent = errors.New("audit: invalid event")
	// ErrImmutable is returned by any attempt to alter a written event.
	ErrImmutable = errors.New("audit: events are immutable")
)

// Event is one immutable audit record.
type Event struct {
	ID            string          `json:"id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Category      string          `json:"category"`
	Action        string          `json:"action"`
	ActorUserID   string          `json:"actor_user_id,omitempty"`
	ActorRole     string          `json:"actor_role,omitempty"`
	CooperativeID string          `json:"cooperative_id,omitempty"`
	TargetType    string          `json:"target_type,omitempty"`
	TargetID      string          `json:"target_id,omitempty"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	IP            string          `json:"ip,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	// LinkedEventID points at the event this one annotates.
	LinkedEventID string `json:"linked_event_id,omitempty"`
}

func (e *Event) validate() error {
	if e == nil {
		return ErrInvalidEvent
	}
	if _, ok := validCategories[e.Category]; !ok {
		return ErrInvalidEvent
	}
	if strings.TrimSpace(e.Action) == "" {
		return ErrInvalidEvent
	}
	return nil
}

// Store appends immutable events and reads them back.
type Store interface {
	Append(ctx context.Context, e *Event) error
	List(ctx context.Context, q Query) ([]Event, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Query filters event retrieval. CooperativeID is mandatory unless the
// caller holds a cross-tenant grant; that gate lives in Service.List.
type Query struct {
	CooperativeID string
	ActorUserID   string
	Category      string
	From          time.Time
	To            time.Time
	Limit         int
}

// Recorder is the narrow write-side interface handed to other packages.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// Service persists events and mirrors each one as a structured log line.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the audit service over a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Recorder = (*Service)(nil)

// Record validates, stamps and appends the event. A store failure is an
// operational incident: it is logged, counted in metrics and returned, but
// ordinary callers keep serving the request. Security-critical callers
// (cooperative switch) fail their own operation on a non-nil return.
func (s *Service) Record(ctx context.Context, e *Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	s.logLine(e)
	if err := s.store.Append(ctx, e); err != nil {
		obs.CountAuditWriteFailure()
		obs.LogRequest(map[string]any{
			"ts":    s.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit append failed",
			"event": e.Category,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// TxAppender is implemented by stores that can append inside a caller-owned
// transaction, letting security-critical writes commit atomically with the
// operation they describe.
type TxAppender interface {
	AppendTx(ctx context.Context, tx *sql.Tx, e *Event) error
}

// RecordTx appends the event inside the caller's transaction when the store
// supports it. Unlike Record, a failure here is meant to abort the caller's
// transaction: an unaudited privilege change must not commit.
func (s *Service) RecordTx(ctx context.Context, tx *sql.Tx, e *Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	s.logLine(e)
	ta, ok := s.store.(TxAppender)
	if !ok {
		return s.store.Append(ctx, e)
	}
	if err := ta.AppendTx(ctx, tx, e); err != nil {
		obs.CountAuditWriteFailure()
		return err
	}
	return nil
}

// Annotate writes a new event linked to an existing one. The original is
// never touched.
func (s *Service) Annotate(ctx context.Context, originalID string, e *Event) error {
	originalID = strings.TrimSpace(originalID)
	if originalID == "" {
		return ErrInvalidEvent
	}
	e.LinkedEventID = originalID
	return s.Record(ctx, e)
}

// List retrieves events for one cooperative. Callers must have applied the
// isolation scope already; Service trusts the query's cooperative id came
// from a resolved session, which is why httpapi never passes a raw path
// parameter here.
func (s *Service) List(ctx context.Context, q Query) ([]Event, error) {
	if strings.TrimSpace(q.CooperativeID) == "" {
		return nil, ErrInvalidEvent
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	return s.store.List(ctx, q)
}

// ListAllTenants retrieves events across cooperatives for holders of a
// cross-tenant grant. The grant's actor is recorded in a fresh
// cross_tenant_access event, so reading the audit log is itself audited.
func (s *Service) ListAllTenants(ctx context.Context, grantActorID string, q Query) ([]Event, error) {
	if strings.TrimSpace(grantActorID) == "" {
		return nil, tenant.ErrAccessDenied
	}
	_ = s.Record(ctx, &Event{
		Category:    CategoryCrossTenantAccess,
		Action:      "audit.query_all_tenants",
		ActorUserID: grantActorID,
	})
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	return s.store.List(ctx, q)
}

// PurgeBefore removes events older than the cutoff per the retention policy
// and records the purge itself.
func (s *Service) PurgeBefore(ctx context.Context, actorUserID string, cutoff time.Time) (int64, error) {
	n, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	_ = s.Record(ctx, &Event{
		Category:    CategoryRetentionPurge,
		Action:      "audit.retention_purge",
		ActorUserID: actorUserID,
		After:       mustJSON(map[string]any{"purged": n, "cutoff": cutoff.UTC().Format(time.RFC3339)}),
	})
	return n, nil
}

func (s *Service) logLine(e *Event) {
	entry := map[string]any{
		"ts":       e.OccurredAt.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    e.Category,
		"action":   e.Action,
		"event_id": e.ID,
	}
	if e.ActorUserID != "" {
		entry["user_id"] = e.ActorUserID
	}
	if e.CooperativeID != "" {
		entry["cooperative_id"] = e.CooperativeID
	}
	if e.RequestID != "" {
		entry["request_id"] = e.RequestID
	}
	obs.LogRequest(entry)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
