package pg

import (
	"context"
	"database/sql"
	"time"

	"brfportal.se/internal/tenant"
)

// Member is one resident row, always bound to a cooperative.
type Member struct {
	ID              string     `json:"id"`
	CooperativeID   string     `json:"cooperative_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	ApartmentNumber string     `json:"apartment_number"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"-"`
}

var memberColumns = []string{
	"id", "cooperative_id", "name", "email", "apartment_number", "created_at",
}

// ListMembers returns the scope's members, optionally filtered by apartment.
func (s *Store) ListMembers(ctx context.Context, scope tenant.Scope, apartment string) ([]Member, error) {
	f := tenant.Filter{
		Table:      "members",
		Columns:    memberColumns,
		SoftDelete: true,
		OrderBy:    "apartment_number",
	}
	if apartment != "" {
		f.Where = append(f.Where, tenant.Predicate{Column: "apartment_number", Op: "=", Value: apartment})
	}
	rows, err := tenant.NewRunner(s.db).Select(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

// ListMembersAllTenants is the administrative view across every cooperative.
// The grant gates it; callers record the cross_tenant_access event.
func (s *Store) ListMembersAllTenants(ctx context.Context, grant tenant.Grant) ([]Member, error) {
	rows, err := tenant.NewRunner(s.db).CrossTenantSelect(ctx, grant, tenant.Filter{
		Table:      "members",
		Columns:    memberColumns,
		SoftDelete: true,
		OrderBy:    "cooperative_id",
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

// FindMember looks a member up by id within the scope. A member belonging
// to another cooperative is indistinguishable from a missing one.
func (s *Store) FindMember(ctx context.Context, scope tenant.Scope, id string) (*Member, error) {
	rows, err := tenant.NewRunner(s.db).Select(ctx, scope, tenant.Filter{
		Table:      "members",
		Columns:    memberColumns,
		Where:      []tenant.Predicate{{Column: "id", Op: "=", Value: id}},
		SoftDelete: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members, err := scanMembers(rows)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, sql.ErrNoRows
	}
	return &members[0], nil
}

// UpdateMemberEmail mutates within the scope only; zero rows affected means
// the member does not exist in this cooperative.
func (s *Store) UpdateMemberEmail(ctx context.Context, scope tenant.Scope, id, email string) (int64, error) {
	return tenant.NewRunner(s.db).Update(ctx, scope, "members",
		map[string]any{"email": email},
		[]tenant.Predicate{{Column: "id", Op: "=", Value: id}})
}

// SoftDeleteMember marks a member deleted; the row keeps its cooperative id.
func (s *Store) SoftDeleteMember(ctx context.Context, scope tenant.Scope, id string) (int64, error) {
	return tenant.NewRunner(s.db).SoftDelete(ctx, scope, "members",
		[]tenant.Predicate{{Column: "id", Op: "=", Value: id}})
}

func scanMembers(rows *sql.Rows) ([]Member, error) {
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.CooperativeID, &m.Name, &m.Email,
			&m.ApartmentNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
