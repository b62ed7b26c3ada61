package pg

import (
	"context"
	"database/sql"
	"time"

	"brfportal.se/internal/tenant"
)

// Document is tenant-scoped file metadata. References between documents go
// through the document_references join table, never through ids embedded in
// serialized blobs, so the owning-cooperative check happens at the relation.
type Document struct {
	ID            string     `json:"id"`
	CooperativeID string     `json:"cooperative_id"`
	Title         string     `json:"title"`
	Category      string     `json:"category"`
	UploadedBy    string     `json:"uploaded_by"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"-"`
}

var documentColumns = []string{
	"id", "cooperative_id", "title", "category", "uploaded_by", "created_at",
}

// ListDocuments returns the scope's documents, optionally by category.
func (s *Store) ListDocuments(ctx context.Context, scope tenant.Scope, category string) ([]Document, error) {
	f := tenant.Filter{
		Table:      "documents",
		Columns:    documentColumns,
		SoftDelete: true,
		OrderBy:    "created_at desc",
	}
	if category != "" {
		f.Where = append(f.Where, tenant.Predicate{Column: "category", Op: "=", Value: category})
	}
	rows, err := tenant.NewRunner(s.db).Select(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// AddDocumentReference links two documents. Both endpoints must live in the
// caller's cooperative; the join enforces that at the relation itself.
func (s *Store) AddDocumentReference(ctx context.Context, scope tenant.Scope, fromID, toID string) error {
	if !scope.Valid() {
		return tenant.ErrMissingScope
	}
	res, err := s.db.ExecContext(ctx, `
		insert into document_references (document_id, references_id, cooperative_id)
		select d1.id, d2.id, d1.cooperative_id
		from documents d1
		join documents d2 on d2.cooperative_id = d1.cooperative_id
		where d1.id = $1 and d2.id = $2 and d1.cooperative_id = $3
		  and d1.deleted_at is null and d2.deleted_at is null
	`, fromID, toID, scope.CooperativeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either endpoint missing, deleted, or in another cooperative.
		return tenant.ErrAccessDenied
	}
	return nil
}

// DocumentReferences lists outbound references within the scope.
func (s *Store) DocumentReferences(ctx context.Context, scope tenant.Scope, documentID string) ([]string, error) {
	rows, err := tenant.NewRunner(s.db).Select(ctx, scope, tenant.Filter{
		Table:   "document_references",
		Columns: []string{"references_id"},
		Where:   []tenant.Predicate{{Column: "document_id", Op: "=", Value: documentID}},
		OrderBy: "references_id",
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		refs = append(refs, id)
	}
	return refs, rows.Err()
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.CooperativeID, &d.Title, &d.Category,
			&d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
