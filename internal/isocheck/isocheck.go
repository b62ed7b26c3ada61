// Package isocheck probes the isolation layer for cross-tenant leaks
// against synthetic datasets. It is a regression gate: one leaked row in
// any category fails the whole run, there is no partial credit.
package isocheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brfportal.se/internal/store/pg"
	"brfportal.se/internal/tenant"
)

// Check categories. Every probe belongs to exactly one.
const (
	CategoryPerTable   = "per_table_isolation"
	CategoryCrossRead  = "cross_tenant_read"
	CategoryCrossWrite = "cross_tenant_write"
	CategoryInjection  = "injection"
	CategorySoftDelete = "soft_delete"
	CategoryConcurrent = "concurrent"
)

// ErrLeak marks a probe that observed data from a foreign cooperative.
// Leaks are distinguished from infrastructure errors so the report can say
// "broken harness" apart from "broken isolation".
var ErrLeak = errors.New("isocheck: cross-tenant leak")

func leakf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLeak, fmt.Sprintf(format, args...))
}

// Result is the outcome of one probe.
type Result struct {
	Category string        `json:"category"`
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Leak     bool          `json:"leak"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// CategorySummary aggregates results per category.
type CategorySummary struct {
	Category string        `json:"category"`
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Leaks    int           `json:"leaks"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Report is the structured pass/fail output of a full run.
type Report struct {
	StartedAt  time.Time         `json:"started_at"`
	Elapsed    time.Duration     `json:"elapsed_ns"`
	Results    []Result          `json:"results"`
	Categories []CategorySummary `json:"categories"`
	Leaks      int               `json:"leaks"`
	Failures   int               `json:"failures"`
	Passed     bool              `json:"passed"`
}

// Tenant names one synthetic cooperative the harness probes.
type Tenant struct {
	CooperativeID string
	MemberIDs     []string
	DocumentIDs   []string
}

// Harness runs the probe suite over at least two seeded tenants whose
// datasets deliberately overlap (same apartment numbers, similar names).
type Harness struct {
	db      *sql.DB
	store   *pg.Store
	tenants []Tenant
	now     func() time.Time
}

// Option configures Harness behavior.
type Option func(*Harness)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(h *Harness) {
		if fn != nil {
			h.now = fn
		}
	}
}

// New builds a harness over an open handle and the tenants to probe.
func New(db *sql.DB, tenants []Tenant, opts ...Option) (*Harness, error) {
	if len(tenants) < 2 {
		return nil, errors.New("isocheck: need at least two tenants")
	}
	h := &Harness{
		db:      db,
		store:   pg.NewStore(db),
		tenants: tenants,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type probe struct {
	category string
	name     string
	run      func(ctx context.Context) error
}

// Run executes every probe and assembles the report. Probes run in order
// except the concurrent category, which races scopes internally.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	probes := h.probes()
	report := &Report{StartedAt: h.now().UTC(), Passed: true}

	for _, p := range probes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := h.now()
		err := p.run(ctx)
		res := Result{
			Category: p.category,
			Name:     p.name,
			Passed:   err == nil,
			Elapsed:  h.now().Sub(start),
		}
		if err != nil {
			res.Error = err.Error()
			res.Leak = errors.Is(err, ErrLeak)
			report.Failures++
			if res.Leak {
				report.Leaks++
			}
			report.Passed = false
		}
		report.Results = append(report.Results, res)
	}

	report.Elapsed = h.now().Sub(report.StartedAt)
	report.Categories = summarize(report.Results)
	return report, nil
}

func summarize(results []Result) []CategorySummary {
	order := []string{
		CategoryPerTable, CategoryCrossRead, CategoryCrossWrite,
		CategoryInjection, CategorySoftDelete, CategoryConcurrent,
	}
	byCat := make(map[string]*CategorySummary, len(order))
	for _, cat := range order {
		byCat[cat] = &CategorySummary{Category: cat}
	}
	for _, r := range results {
		s, ok := byCat[r.Category]
		if !ok {
			s = &CategorySummary{Category: r.Category}
			byCat[r.Category] = s
			order = append(order, r.Category)
		}
		s.Total++
		s.Elapsed += r.Elapsed
		if r.Passed {
			s.Passed++
		}
		if r.Leak {
			s.Leaks++
		}
	}
	out := make([]CategorySummary, 0, len(order))
	for _, cat := range order {
		out = append(out, *byCat[cat])
	}
	return out
}

func scopeOf(t Tenant) tenant.Scope {
	return tenant.Scope{CooperativeID: t.CooperativeID}
}
