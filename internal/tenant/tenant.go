// Package tenant is the isolation enforcement layer: the single chokepoint
// through which every tenant-scoped read and write must pass. It injects the
// cooperative-id predicate into each query from the resolved session scope
// and treats any caller-supplied cooperative id as a cross-check, never as
// the authoritative value.
package tenant

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAccessDenied is returned for cross-tenant attempts, including a
	// caller-supplied cooperative id that does not match the session scope.
	ErrAccessDenied = errors.New("tenant: access denied")
	// ErrMissingScope is returned when a query is attempted without a
	// resolved cooperative scope.
	ErrMissingScope = errors.New("tenant: missing cooperative scope")
	// ErrInvalidFilter is returned when a filter fails identifier validation.
	ErrInvalidFilter = errors.New("tenant: invalid filter")
)

// Scope identifies the cooperative an operation is bound to. It is derived
// only from the resolved session context, never from request parameters.
type Scope struct {
	CooperativeID string
}

// Valid reports whether the scope carries a cooperative id.
func (s Scope) Valid() bool {
	return strings.TrimSpace(s.CooperativeID) != ""
}

// CrossCheck compares a caller-supplied cooperative id against the session
// scope. An empty claim passes (the caller did not assert a tenant); a
// mismatch is an access denial, not a silent re-scope.
func (s Scope) CrossCheck(claimedCoopID string) error {
	claimedCoopID = strings.TrimSpace(claimedCoopID)
	if claimedCoopID == "" {
		return nil
	}
	if !s.Valid() {
		return ErrMissingScope
	}
	if claimedCoopID != s.CooperativeID {
		return ErrAccessDenied
	}
	return nil
}

// Predicate is one condition of a filter. Op is restricted to a fixed set;
// values always travel as placeholders.
type Predicate struct {
	Column string
	Op     string
	Value  any
}

var allowedOps = map[string]struct{}{
	"=": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {}, "like": {},
}

// Filter describes a tenant-scoped query before the cooperative predicate
// is applied. SoftDelete marks tables carrying a deleted_at column.
type Filter struct {
	Table          string
	Columns        []string
	Where          []Predicate
	SoftDelete     bool
	IncludeDeleted bool
	OrderBy        string
	Limit          int
}

// Query is an isolation-applied SQL statement with positional args.
type Query struct {
	SQL  string
	Args []any
}

// Scoped turns a filter into a SELECT bound to the scope's cooperative id.
// The predicate is injected on every call; nothing is cached per connection,
// since pooled connections are reused across tenants. Identical inputs
// produce identical SQL and a deterministic ordering.
func Scoped(scope Scope, f Filter) (Query, error) {
	if !scope.Valid() {
		return Query{}, ErrMissingScope
	}
	if err := validateFilter(f); err != nil {
		return Query{}, err
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
	sb.WriteString(" where cooperative_id = $1")
	args = append(args, scope.CooperativeID)

	for _, p := range f.Where {
		args = append(args, p.Value)
		fmt.Fprintf(&sb, " and %s %s $%d", p.Column, p.Op, len(args))
	}
	if f.SoftDelete && !f.IncludeDeleted {
		sb.WriteString(" and deleted_at is null")
	}
	if f.OrderBy != "" {
		sb.WriteString(" order by ")
		sb.WriteString(f.OrderBy)
	} else {
		// Deterministic ordering so repeated identical reads compare equal.
		sb.WriteString(" order by id")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " limit $%d", len(args))
	}
	return Query{SQL: sb.String(), Args: args}, nil
}

func validateFilter(f Filter) error {
	if !validIdentifier(f.Table) {
		return fmt.Errorf("%w: table %q", ErrInvalidFilter, f.Table)
	}
	for _, c := range f.Columns {
		if !validIdentifier(c) {
			return fmt.Errorf("%w: column %q", ErrInvalidFilter, c)
		}
	}
	for _, p := range f.Where {
		if !validIdentifier(p.Column) {
			return fmt.Errorf("%w: column %q", ErrInvalidFilter, p.Column)
		}
		if p.Column == "cooperative_id" {
			// A caller-supplied cooperative predicate must go through
			// CrossCheck; it never becomes the scope.
			return fmt.Errorf("%w: cooperative_id predicate is reserved", ErrInvalidFilter)
		}
		if _, ok := allowedOps[strings.ToLower(p.Op)]; !ok {
			return fmt.Errorf("%w: operator %q", ErrInvalidFilter, p.Op)
		}
	}
	if f.OrderBy != "" && !validOrderBy(f.OrderBy) {
		return fmt.Errorf("%w: order by %q", ErrInvalidFilter, f.OrderBy)
	}
	return nil
}

// validIdentifier admits lower_snake_case SQL identifiers only. Anything
// else (quotes, semicolons, whitespace) is rejected before it can reach the
// statement text.
func validIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func validOrderBy(s string) bool {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return validIdentifier(parts[0])
	case 2:
		dir := strings.ToLower(parts[1])
		return validIdentifier(parts[0]) && (dir == "asc" || dir == "desc")
	default:
		return false
	}
}
