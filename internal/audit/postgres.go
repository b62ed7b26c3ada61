package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"brfportal.se/internal/tenant"
)

var _ Store = (*PGStore)(nil)

// PGStore persists audit events in the append-only audit_events table.
// Production grants on that table allow INSERT and SELECT only.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps a database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const auditColumns = `id, occurred_at, category, action, actor_user_id, actor_role,
	cooperative_id, target_type, target_id, before_state, after_state,
	request_id, ip, user_agent, linked_event_id`

const insertEventSQL = `
		insert into audit_events (id, occurred_at, category, action, actor_user_id,
			actor_role, cooperative_id, target_type, target_id, before_state,
			after_state, request_id, ip, user_agent, linked_event_id)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`

func insertEventArgs(e *Event) []any {
	return []any{
		e.ID, e.OccurredAt, e.Category, e.Action, nullable(e.ActorUserID),
		nullable(e.ActorRole), nullable(e.CooperativeID), nullable(e.TargetType),
		nullable(e.TargetID), []byte(e.Before), []byte(e.After),
		nullable(e.RequestID), nullable(e.IP), nullable(e.UserAgent),
		nullable(e.LinkedEventID),
	}
}

func (s *PGStore) Append(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx, insertEventSQL, insertEventArgs(e)...)
	return err
}

// AppendTx appends inside a caller-owned transaction so a switch and its
// audit record commit together or not at all.
func (s *PGStore) AppendTx(ctx context.Context, tx *sql.Tx, e *Event) error {
	_, err := tx.ExecContext(ctx, insertEventSQL, insertEventArgs(e)...)
	return err
}

// List reads events back. When the query carries a cooperative id the
// statement goes through the tenant chokepoint like any other tenant-scoped
// table; an empty cooperative id means the caller came through the audited
// cross-tenant path in Service.
func (s *PGStore) List(ctx context.Context, q Query) ([]Event, error) {
	var where []tenant.Predicate
	if q.ActorUserID != "" {
		where = append(where, tenant.Predicate{Column: "actor_user_id", Op: "=", Value: q.ActorUserID})
	}
	if q.Category != "" {
		where = append(where, tenant.Predicate{Column: "category", Op: "=", Value: q.Category})
	}
	if !q.From.IsZero() {
		where = append(where, tenant.Predicate{Column: "occurred_at", Op: ">=", Value: q.From})
	}
	if !q.To.IsZero() {
		where = append(where, tenant.Predicate{Column: "occurred_at", Op: "<", Value: q.To})
	}

	filter := tenant.Filter{
		Table:   "audit_events",
		Where:   where,
		OrderBy: "occurred_at desc",
		Limit:   q.Limit,
	}

	var (
		rows *sql.Rows
		err  error
	)
	if q.CooperativeID != "" {
		rows, err = tenant.NewRunner(s.db).Select(ctx, tenant.Scope{CooperativeID: q.CooperativeID}, withColumns(filter))
	} else {
		rows, err = s.listUnscoped(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func withColumns(f tenant.Filter) tenant.Filter {
	f.Columns = []string{
		"id", "occurred_at", "category", "action", "actor_user_id", "actor_role",
		"cooperative_id", "target_type", "target_id", "before_state", "after_state",
		"request_id", "ip", "user_agent", "linked_event_id",
	}
	return f
}

func (s *PGStore) listUnscoped(ctx context.Context, f tenant.Filter) (*sql.Rows, error) {
	sqlText := "select " + auditColumns + " from audit_events where 1=1"
	var args []any
	for _, p := range f.Where {
		args = append(args, p.Value)
		sqlText += fmt.Sprintf(" and %s %s $%d", p.Column, p.Op, len(args))
	}
	sqlText += " order by occurred_at desc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sqlText += fmt.Sprintf(" limit $%d", len(args))
	}
	return s.db.QueryContext(ctx, sqlText, args...)
}

func (s *PGStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from audit_events where occurred_at < $1 and category != $2`,
		cutoff, CategoryRetentionPurge)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e                               Event
			actorID, actorRole, coopID      sql.NullString
			targetType, targetID, requestID sql.NullString
			ip, userAgent, linkedID         sql.NullString
			before, after                   []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Category, &e.Action,
			&actorID, &actorRole, &coopID, &targetType, &targetID,
			&before, &after, &requestID, &ip, &userAgent, &linkedID); err != nil {
			return nil, err
		}
		e.ActorUserID = actorID.String
		e.ActorRole = actorRole.String
		e.CooperativeID = coopID.String
		e.TargetType = targetType.String
		e.TargetID = targetID.String
		e.Before = before
		e.After = after
		e.RequestID = requestID.String
		e.IP = ip.String
		e.UserAgent = userAgent.String
		e.LinkedEventID = linkedID.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
