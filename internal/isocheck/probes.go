package isocheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"brfportal.se/internal/tenant"
)

func (h *Harness) probes() []probe {
	var ps []probe

	for i := range h.tenants {
		t := h.tenants[i]
		ps = append(ps,
			probe{CategoryPerTable, "members_scoped_" + t.CooperativeID, func(ctx context.Context) error {
				return h.checkMembersScoped(ctx, t)
			}},
			probe{CategoryPerTable, "documents_scoped_" + t.CooperativeID, func(ctx context.Context) error {
				return h.checkDocumentsScoped(ctx, t)
			}},
		)
	}

	for i := range h.tenants {
		self := h.tenants[i]
		other := h.tenants[(i+1)%len(h.tenants)]
		ps = append(ps,
			probe{CategoryCrossRead, fmt.Sprintf("read_%s_from_%s", other.CooperativeID, self.CooperativeID), func(ctx context.Context) error {
				return h.checkCrossRead(ctx, self, other)
			}},
			probe{CategoryCrossWrite, fmt.Sprintf("update_%s_from_%s", other.CooperativeID, self.CooperativeID), func(ctx context.Context) error {
				return h.checkCrossUpdate(ctx, self, other)
			}},
			probe{CategoryCrossWrite, fmt.Sprintf("reference_%s_from_%s", other.CooperativeID, self.CooperativeID), func(ctx context.Context) error {
				return h.checkCrossReference(ctx, self, other)
			}},
		)
	}

	ps = append(ps,
		probe{CategoryInjection, "identifier_rejection", h.checkIdentifierInjection},
		probe{CategoryInjection, "value_as_placeholder", h.checkValueInjection},
		probe{CategorySoftDelete, "deleted_rows_hidden", h.checkSoftDelete},
		probe{CategoryConcurrent, "mixed_tenant_reads", h.checkConcurrentReads},
	)
	return ps
}

// checkMembersScoped verifies every returned member row carries the scope's
// cooperative id and that the row count matches a direct count of the table.
func (h *Harness) checkMembersScoped(ctx context.Context, t Tenant) error {
	members, err := h.store.ListMembers(ctx, scopeOf(t), "")
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.CooperativeID != t.CooperativeID {
			return leakf("member %s belongs to %s, scope was %s", m.ID, m.CooperativeID, t.CooperativeID)
		}
	}
	var want int
	err = h.db.QueryRowContext(ctx,
		`select count(*) from members where cooperative_id = $1 and deleted_at is null`,
		t.CooperativeID).Scan(&want)
	if err != nil {
		return err
	}
	if len(members) != want {
		return fmt.Errorf("member count mismatch for %s: scoped=%d direct=%d", t.CooperativeID, len(members), want)
	}
	return nil
}

func (h *Harness) checkDocumentsScoped(ctx context.Context, t Tenant) error {
	docs, err := h.store.ListDocuments(ctx, scopeOf(t), "")
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.CooperativeID != t.CooperativeID {
			return leakf("document %s belongs to %s, scope was %s", d.ID, d.CooperativeID, t.CooperativeID)
		}
	}
	return nil
}

// checkCrossRead looks up another tenant's member ids under this tenant's
// scope. Every lookup must come back empty.
func (h *Harness) checkCrossRead(ctx context.Context, self, other Tenant) error {
	for _, id := range other.MemberIDs {
		m, err := h.store.FindMember(ctx, scopeOf(self), id)
		if err == nil {
			return leakf("member %s of %s readable from %s (got %s)", id, other.CooperativeID, self.CooperativeID, m.ID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return nil
}

// checkCrossUpdate attempts updates and soft deletes on foreign member ids.
// Affected-row counts must be zero and the foreign rows must be unchanged.
func (h *Harness) checkCrossUpdate(ctx context.Context, self, other Tenant) error {
	for _, id := range other.MemberIDs {
		n, err := h.store.UpdateMemberEmail(ctx, scopeOf(self), id, "hijacked@example.test")
		if err != nil {
			return err
		}
		if n != 0 {
			return leakf("update reached member %s of %s from scope %s", id, other.CooperativeID, self.CooperativeID)
		}
		n, err = h.store.SoftDeleteMember(ctx, scopeOf(self), id)
		if err != nil {
			return err
		}
		if n != 0 {
			return leakf("soft delete reached member %s of %s from scope %s", id, other.CooperativeID, self.CooperativeID)
		}
	}
	var hijacked int
	err := h.db.QueryRowContext(ctx,
		`select count(*) from members where cooperative_id = $1 and (email = 'hijacked@example.test' or deleted_at is not null)`,
		other.CooperativeID).Scan(&hijacked)
	if err != nil {
		return err
	}
	if hijacked != 0 {
		return leakf("%d rows of %s mutated from scope %s", hijacked, other.CooperativeID, self.CooperativeID)
	}
	return nil
}

// checkCrossReference tries to link a local document to a foreign one. The
// relation-level ownership check must refuse it.
func (h *Harness) checkCrossReference(ctx context.Context, self, other Tenant) error {
	if len(self.DocumentIDs) == 0 || len(other.DocumentIDs) == 0 {
		return errors.New("isocheck: tenants need seeded documents")
	}
	err := h.store.AddDocumentReference(ctx, scopeOf(self), self.DocumentIDs[0], other.DocumentIDs[0])
	if err == nil {
		return leakf("document reference created from %s to %s", self.CooperativeID, other.CooperativeID)
	}
	if !errors.Is(err, tenant.ErrAccessDenied) {
		return err
	}
	return nil
}

// checkIdentifierInjection feeds hostile identifiers into the filter
// builder. Each must be rejected before it can reach statement text.
func (h *Harness) checkIdentifierInjection(ctx context.Context) error {
	scope := scopeOf(h.tenants[0])
	hostile := []tenant.Filter{
		{Table: "members; drop table members"},
		{Table: "members", Columns: []string{"id, (select password_hash from users)"}},
		{Table: "members", Where: []tenant.Predicate{{Column: "id' or '1'='1", Op: "=", Value: "x"}}},
		{Table: "members", Where: []tenant.Predicate{{Column: "id", Op: "or", Value: "x"}}},
		{Table: "members", OrderBy: "id; delete from members"},
		{Table: "members", Where: []tenant.Predicate{{Column: "cooperative_id", Op: "=", Value: h.tenants[1].CooperativeID}}},
	}
	for _, f := range hostile {
		if _, err := tenant.Scoped(scope, f); !errors.Is(err, tenant.ErrInvalidFilter) {
			return leakf("hostile filter accepted: table=%q orderby=%q", f.Table, f.OrderBy)
		}
	}
	return nil
}

// checkValueInjection runs a classic quote-breaking value through the
// apartment filter. It travels as a placeholder, so it must match nothing
// rather than widen the predicate.
func (h *Harness) checkValueInjection(ctx context.Context) error {
	scope := scopeOf(h.tenants[0])
	members, err := h.store.ListMembers(ctx, scope, `' or '1'='1`)
	if err != nil {
		return err
	}
	if len(members) != 0 {
		return leakf("injected value matched %d rows", len(members))
	}
	return nil
}

// checkSoftDelete inserts a scratch member, soft-deletes it, and verifies
// it disappears from scoped reads in every tenant. The scratch row is
// removed afterwards.
func (h *Harness) checkSoftDelete(ctx context.Context) error {
	t := h.tenants[0]
	const scratchID = "isocheck-scratch-member"
	_, err := h.db.ExecContext(ctx,
		`insert into members (id, cooperative_id, name, apartment_number) values ($1, $2, 'Scratch', '9999')
		 on conflict (id) do nothing`, scratchID, t.CooperativeID)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = h.db.ExecContext(ctx, `delete from members where id = $1`, scratchID)
	}()

	n, err := h.store.SoftDeleteMember(ctx, scopeOf(t), scratchID)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("soft delete affected %d rows, want 1", n)
	}
	for _, tt := range h.tenants {
		if _, err := h.store.FindMember(ctx, scopeOf(tt), scratchID); err == nil {
			return leakf("soft-deleted member visible under scope %s", tt.CooperativeID)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return nil
}

// checkConcurrentReads races scoped list queries across tenants on the
// shared pool. A pooled connection reused across tenants must not carry the
// previous request's scope.
func (h *Harness) checkConcurrentReads(ctx context.Context) error {
	const rounds = 20
	errCh := make(chan error, len(h.tenants)*rounds)
	var wg sync.WaitGroup
	for i := range h.tenants {
		t := h.tenants[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				members, err := h.store.ListMembers(ctx, scopeOf(t), "")
				if err != nil {
					errCh <- err
					return
				}
				for _, m := range members {
					if m.CooperativeID != t.CooperativeID {
						errCh <- leakf("concurrent read: member %s of %s under scope %s", m.ID, m.CooperativeID, t.CooperativeID)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
