package isocheck

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewRequiresTwoTenants(t *testing.T) {
	if _, err := New(nil, []Tenant{{CooperativeID: "coop-alpha"}}); err == nil {
		t.Fatal("single tenant accepted")
	}
	if _, err := New(nil, nil); err == nil {
		t.Fatal("no tenants accepted")
	}
	h, err := New(nil, []Tenant{
		{CooperativeID: "coop-alpha"},
		{CooperativeID: "coop-beta"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if h == nil {
		t.Fatal("nil harness")
	}
}

func TestLeakfWrapsSentinel(t *testing.T) {
	err := leakf("scope %s saw %d foreign rows", "coop-alpha", 2)
	if !errors.Is(err, ErrLeak) {
		t.Fatalf("leakf does not wrap ErrLeak: %v", err)
	}
	if !strings.Contains(err.Error(), "coop-alpha saw 2 foreign rows") {
		t.Fatalf("leak message lost detail: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Category: CategoryPerTable, Passed: true, Elapsed: time.Millisecond},
		{Category: CategoryPerTable, Passed: false, Leak: true, Elapsed: 2 * time.Millisecond},
		{Category: CategoryCrossRead, Passed: true},
		{Category: CategoryInjection, Passed: false},
	}

	summaries := summarize(results)
	byCat := make(map[string]CategorySummary, len(summaries))
	for _, s := range summaries {
		byCat[s.Category] = s
	}

	pt := byCat[CategoryPerTable]
	if pt.Total != 2 || pt.Passed != 1 || pt.Leaks != 1 || pt.Elapsed != 3*time.Millisecond {
		t.Fatalf("per_table summary: %+v", pt)
	}
	if inj := byCat[CategoryInjection]; inj.Total != 1 || inj.Passed != 0 || inj.Leaks != 0 {
		t.Fatalf("injection summary: %+v", inj)
	}
	// Empty categories still appear so the report shape is stable.
	if cc := byCat[CategoryConcurrent]; cc.Total != 0 {
		t.Fatalf("concurrent summary: %+v", cc)
	}
	if summaries[0].Category != CategoryPerTable {
		t.Fatalf("category order lost: %v", summaries[0].Category)
	}
}

// With a database that refuses every statement the run must fail, but as
// infrastructure failures, never as leaks.
func TestRunSeparatesFailuresFromLeaks(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	h, err := New(db, []Tenant{
		{CooperativeID: "coop-alpha", MemberIDs: []string{"m-a1"}, DocumentIDs: []string{"doc-a1"}},
		{CooperativeID: "coop-beta", MemberIDs: []string{"m-b1"}, DocumentIDs: []string{"doc-b1"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Passed {
		t.Fatal("run passed against a dead database")
	}
	if report.Failures == 0 {
		t.Fatal("no failures recorded")
	}
	if report.Leaks != 0 {
		t.Fatalf("database errors misclassified as leaks: %d", report.Leaks)
	}
	if len(report.Results) == 0 || len(report.Categories) == 0 {
		t.Fatal("empty report")
	}
}
