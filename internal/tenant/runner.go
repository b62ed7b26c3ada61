package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"brfportal.se/internal/obs"
)

// Grant authorizes one unscoped, explicitly audited cross-tenant query.
// The zero value is unusable; construction requires the caller to have
// already checked the admin hierarchy or the cross-tenant permission.
type Grant struct {
	actorID string
}

// NewGrant builds a cross-tenant grant. permitted must reflect an admin
// hierarchy check or an explicit cross-tenant permission on the caller.
func NewGrant(actorID string, permitted bool) (Grant, error) {
	if !permitted || strings.TrimSpace(actorID) == "" {
		return Grant{}, ErrAccessDenied
	}
	return Grant{actorID: actorID}, nil
}

// ActorID returns the user the grant was issued to.
func (g Grant) ActorID() string { return g.actorID }

// Runner executes isolation-applied statements against the shared pool.
type Runner struct {
	db *sql.DB
}

// NewRunner wraps a database handle.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// Select runs a scoped read and returns the raw rows.
func (r *Runner) Select(ctx context.Context, scope Scope, f Filter) (*sql.Rows, error) {
	q, err := Scoped(scope, f)
	if err != nil {
		return nil, err
	}
	return r.db.QueryContext(ctx, q.SQL, q.Args...)
}

// Update runs a scoped update. Rows outside the scope's cooperative are
// unreachable regardless of the where conditions; the affected-row count
// tells the caller whether anything inside the scope matched.
func (r *Runner) Update(ctx context.Context, scope Scope, table string, set map[string]any, where []Predicate) (int64, error) {
	if !scope.Valid() {
		return 0, ErrMissingScope
	}
	if err := validateFilter(Filter{Table: table, Where: where}); err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: empty update", ErrInvalidFilter)
	}

	cols := make([]string, 0, len(set))
	for c := range set {
		if !validIdentifier(c) || c == "cooperative_id" {
			return 0, fmt.Errorf("%w: column %q", ErrInvalidFilter, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("update ")
	sb.WriteString(table)
	sb.WriteString(" set ")
	for i, c := range cols {
		args = append(args, set[c])
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = $%d", c, len(args))
	}
	args = append(args, scope.CooperativeID)
	fmt.Fprintf(&sb, " where cooperative_id = $%d", len(args))
	for _, p := range where {
		args = append(args, p.Value)
		fmt.Fprintf(&sb, " and %s %s $%d", p.Column, p.Op, len(args))
	}

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SoftDelete marks matching rows deleted without detaching them from their
// cooperative; a deleted row stays bound to its tenant permanently.
func (r *Runner) SoftDelete(ctx context.Context, scope Scope, table string, where []Predicate) (int64, error) {
	return r.Update(ctx, scope, table, map[string]any{"deleted_at": time.Now().UTC()}, where)
}

// CrossTenantSelect is the dedicated bypass path for administrative queries
// spanning cooperatives. It requires a Grant and is counted in metrics; the
// caller additionally records a cross_tenant_access audit event.
func (r *Runner) CrossTenantSelect(ctx context.Context, grant Grant, f Filter) (*sql.Rows, error) {
	if grant.actorID == "" {
		return nil, ErrAccessDenied
	}
	if err := validateFilter(f); err != nil {
		return nil, err
	}

	cols := "*"
	if len(f.Columns) > 0 {
		cols = strings.Join(f.Columns, ", ")
	}
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("select ")
	sb.WriteString(cols)
	sb.WriteString(" from ")
	sb.WriteString(f.Table)
	sb.WriteString(" where 1=1")
	for _, p := range f.Where {
		args = append(args, p.Value)
		fmt.Fprintf(&sb, " and %s %s $%d", p.Column, p.Op, len(args))
	}
	if f.SoftDelete && !f.IncludeDeleted {
		sb.WriteString(" and deleted_at is null")
	}
	if f.OrderBy != "" && validOrderBy(f.OrderBy) {
		sb.WriteString(" order by ")
		sb.WriteString(f.OrderBy)
	} else {
		sb.WriteString(" order by id")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " limit $%d", len(args))
	}

	obs.CountCrossTenantAccess()
	return r.db.QueryContext(ctx, sb.String(), args...)
}
