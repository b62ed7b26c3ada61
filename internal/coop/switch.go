// Package coop moves a session's active cooperative context. The switch is
// the only sanctioned way to change tenant scope without re-authenticating,
// and it is atomic: the session update, the switch-log row and the audit
// event commit together or not at all.
package coop

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brfportal.se/internal/audit"
	"brfportal.se/internal/auth"
	"brfportal.se/internal/ids"
	"brfportal.se/internal/obs"
	"brfportal.se/internal/ratelimit"
)

// State tracks a switch request through its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRequested State = "requested"
	StateValidated State = "validated"
	StateApplied   State = "applied"
	StateRejected  State = "rejected"
)

// Reason codes carried on decisions and switch-log rows.
const (
	ReasonMembership         = "membership"
	ReasonForcedByRole       = "forced_by_role"
	ReasonNoMembership       = "no_membership"
	ReasonInactiveMembership = "inactive_membership"
	ReasonTargetNotFound     = "target_not_found"
	ReasonTargetInactive     = "target_inactive"
	ReasonSameCooperative    = "same_cooperative"
)

// Decision is the outcome of a CanSwitch probe.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// SwitchLog records one applied context switch.
type SwitchLog struct {
	ID                string
	UserID            string
	FromCooperativeID string
	ToCooperativeID   string
	Reason            string
	OccurredAt        time.Time
}

// Switcher validates and applies cooperative context switches.
type Switcher struct {
	db      *sql.DB
	store   auth.Store
	auditor *audit.Service
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// Option configures Switcher behavior.
type Option func(*Switcher)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Switcher) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRateLimiter attaches a per-user switch attempt limiter.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Switcher) {
		s.limiter = l
	}
}

// NewSwitcher constructs a Switcher. The db handle is used for the atomic
// apply transaction; reads go through the auth store.
func NewSwitcher(db *sql.DB, store auth.Store, auditor *audit.Service, opts ...Option) *Switcher {
	s := &Switcher{db: db, store: store, auditor: auditor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanSwitch is a pure decision: it never mutates state, so the UI can probe
// it freely. Allowed requires an active membership in the target, or an
// admin/chairman role permitting forced switches.
func (s *Switcher) CanSwitch(ctx context.Context, userID, targetCoopID string) (Decision, error) {
	target, err := s.store.Cooperatives(ctx).Find(ctx, targetCoopID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return Decision{Reason: ReasonTargetNotFound}, nil
		}
		return Decision{}, err
	}
	if !target.Active {
		return Decision{Reason: ReasonTargetInactive}, nil
	}

	membership, err := s.store.Memberships(ctx).Find(ctx, userID, targetCoopID)
	switch {
	case err == nil && membership.Active:
		return Decision{Allowed: true, Reason: ReasonMembership}, nil
	case err == nil:
		return Decision{Reason: ReasonInactiveMembership}, nil
	case !errors.Is(err, auth.ErrNotFound):
		return Decision{}, err
	}

	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if user.Role == auth.RoleAdmin || user.Role == auth.RoleChairman {
		return Decision{Allowed: true, Reason: ReasonForcedByRole}, nil
	}
	return Decision{Reason: ReasonNoMembership}, nil
}

// Switch applies a context switch for the resolved identity. The request
// walks Requested -> Validated -> Applied, or ends Rejected with
// auth.ErrAccessDenied. Audit-write failure aborts the transaction: a
// privilege change without an audit record must never commit.
func (s *Switcher) Switch(ctx context.Context, identity *auth.Context, targetCoopID string) (*SwitchLog, error) {
	if identity == nil {
		return nil, auth.ErrUnauthenticated
	}
	if s.limiter != nil {
		if err := s.limiter.Allow("switch:" + identity.UserID); err != nil {
			return nil, err
		}
	}
	if identity.CooperativeID == targetCoopID {
		s.reject(ctx, identity, targetCoopID, ReasonSameCooperative)
		return nil, fmt.Errorf("%w: %s", auth.ErrInvalidInput, ReasonSameCooperative)
	}

	decision, err := s.CanSwitch(ctx, identity.UserID, targetCoopID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.reject(ctx, identity, targetCoopID, decision.Reason)
		return nil, auth.ErrAccessDenied
	}

	entry := &SwitchLog{
		ID:                ids.New(),
		UserID:            identity.UserID,
		FromCooperativeID: identity.CooperativeID,
		ToCooperativeID:   targetCoopID,
		Reason:            decision.Reason,
		OccurredAt:        s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update users set active_cooperative_id = $1, updated_at = now() where id = $2`,
		targetCoopID, identity.UserID); err != nil {
		return nil, err
	}
	if identity.SessionID != "" {
		if _, err := tx.ExecContext(ctx,
			`update sessions set cooperative_id = $1 where id = $2 and revoked_at is null`,
			targetCoopID, identity.SessionID); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into cooperative_switch_log (id, user_id, from_cooperative_id, to_cooperative_id, reason, occurred_at)
		values ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.UserID, entry.FromCooperativeID, entry.ToCooperativeID,
		entry.Reason, entry.OccurredAt); err != nil {
		return nil, err
	}
	if err := s.auditor.RecordTx(ctx, tx, s.switchEvent(identity, entry)); err != nil {
		return nil, fmt.Errorf("%w: audit write failed", auth.ErrInternal)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	obs.CountCoopSwitch("applied")
	return entry, nil
}

func (s *Switcher) reject(ctx context.Context, identity *auth.Context, targetCoopID, reason string) {
	obs.CountCoopSwitch("rejected")
	_ = s.auditor.Record(ctx, &audit.Event{
		Category:      audit.CategoryCoopSwitch,
		Action:        "coop.switch.rejected",
		ActorUserID:   identity.UserID,
		ActorRole:     identity.Role.String(),
		CooperativeID: identity.CooperativeID,
		TargetType:    "cooperative",
		TargetID:      targetCoopID,
		After:         stateJSON(StateRejected, reason),
		RequestID:     identity.Meta.RequestID,
		IP:            identity.Meta.IP,
		UserAgent:     identity.Meta.UserAgent,
	})
}

func (s *Switcher) switchEvent(identity *auth.Context, entry *SwitchLog) *audit.Event {
	return &audit.Event{
		Category:      audit.CategoryCoopSwitch,
		Action:        "coop.switch.applied",
		ActorUserID:   identity.UserID,
		ActorRole:     identity.Role.String(),
		CooperativeID: entry.ToCooperativeID,
		TargetType:    "cooperative",
		TargetID:      entry.ToCooperativeID,
		Before:        coopJSON(entry.FromCooperativeID),
		After:         stateJSON(StateApplied, entry.Reason),
		RequestID:     identity.Meta.RequestID,
		IP:            identity.Meta.IP,
		UserAgent:     identity.Meta.UserAgent,
	}
}

func stateJSON(state State, reason string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"state": string(state), "reason": reason})
	return data
}

func coopJSON(id string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"cooperative_id": id})
	return data
}
