package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"brfportal.se/internal/obs"
	"brfportal.se/internal/tenant"
)

type stubStore struct {
	appended []*Event
	listed   []Query
	events   []Event
	purged   int64
	fail     error
}

func (s *stubStore) Append(_ context.Context, e *Event) error {
	if s.fail != nil {
		return s.fail
	}
	s.appended = append(s.appended, e)
	return nil
}

func (s *stubStore) List(_ context.Context, q Query) ([]Event, error) {
	s.listed = append(s.listed, q)
	return s.events, nil
}

func (s *stubStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return s.purged, nil
}

func TestRecordValidatesAndStamps(t *testing.T) {
	store := &stubStore{}
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(func() time.Time { return at }))

	err := svc.Record(context.Background(), &Event{
		Category: CategoryDataAccess,
		Action:   "members.list",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected 1 append, got %d", len(store.appended))
	}
	e := store.appended[0]
	if e.ID == "" {
		t.Fatal("event not stamped with an id")
	}
	if !e.OccurredAt.Equal(at) {
		t.Fatalf("OccurredAt = %v, want %v", e.OccurredAt, at)
	}
}

func TestRecordRejectsMalformedEvents(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store)

	cases := []*Event{
		nil,
		{Category: "made_up_category", Action: "x"},
		{Category: CategoryDataAccess, Action: "   "},
	}
	for i, e := range cases {
		if err := svc.Record(context.Background(), e); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("case %d: Record = %v, want ErrInvalidEvent", i, err)
		}
	}
	if len(store.appended) != 0 {
		t.Fatalf("malformed events reached the store: %d", len(store.appended))
	}
}

func TestRecordSurfacesStoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	svc := NewService(&stubStore{fail: boom})

	err := svc.Record(context.Background(), &Event{
		Category: CategoryDataAccess,
		Action:   "members.list",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Record = %v, want store failure", err)
	}
}

func TestRecordEmitsLogLine(t *testing.T) {
	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	defer obs.Logger().SetOutput(os.Stdout)

	svc := NewService(&stubStore{})
	err := svc.Record(context.Background(), &Event{
		Category:      CategoryAuthzDenied,
		Action:        "authz.denied",
		ActorUserID:   "u1",
		CooperativeID: "coop-1",
		RequestID:     "req-9",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	for k, want := range map[string]string{
		"type":           "audit",
		"event":          CategoryAuthzDenied,
		"action":         "authz.denied",
		"user_id":        "u1",
		"cooperative_id": "coop-1",
		"request_id":     "req-9",
	} {
		if entry[k] != want {
			t.Errorf("log field %s = %v, want %s", k, entry[k], want)
		}
	}
	if entry["event_id"] == "" {
		t.Error("log line missing event_id")
	}
}

func TestAnnotateLinksWithoutMutation(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store)

	err := svc.Annotate(context.Background(), "evt-original", &Event{
		Category: CategoryAdminMutation,
		Action:   "members.update_email.note",
	})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if store.appended[0].LinkedEventID != "evt-original" {
		t.Fatalf("LinkedEventID = %q", store.appended[0].LinkedEventID)
	}

	err = svc.Annotate(context.Background(), "  ", &Event{
		Category: CategoryAdminMutation,
		Action:   "x",
	})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("blank original = %v, want ErrInvalidEvent", err)
	}
}

func TestListRequiresCooperativeScope(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store)

	if _, err := svc.List(context.Background(), Query{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("unscoped List = %v, want ErrInvalidEvent", err)
	}
	if len(store.listed) != 0 {
		t.Fatal("unscoped query reached the store")
	}
}

func TestListClampsLimit(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store)

	cases := []struct{ in, want int }{
		{0, 100},
		{-5, 100},
		{5000, 100},
		{50, 50},
	}
	for _, tc := range cases {
		if _, err := svc.List(context.Background(), Query{CooperativeID: "coop-1", Limit: tc.in}); err != nil {
			t.Fatalf("List(limit=%d): %v", tc.in, err)
		}
	}
	for i, tc := range cases {
		if got := store.listed[i].Limit; got != tc.want {
			t.Errorf("limit %d clamped to %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestListAllTenantsRequiresGrantAndAuditsItself(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store)

	if _, err := svc.ListAllTenants(context.Background(), " ", Query{}); !errors.Is(err, tenant.ErrAccessDenied) {
		t.Fatalf("blank actor = %v, want ErrAccessDenied", err)
	}
	if len(store.listed) != 0 || len(store.appended) != 0 {
		t.Fatal("denied query touched the store")
	}

	if _, err := svc.ListAllTenants(context.Background(), "admin-1", Query{}); err != nil {
		t.Fatalf("ListAllTenants: %v", err)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected the read itself to be audited, got %d events", len(store.appended))
	}
	e := store.appended[0]
	if e.Category != CategoryCrossTenantAccess || e.Action != "audit.query_all_tenants" || e.ActorUserID != "admin-1" {
		t.Fatalf("unexpected self-audit event: %+v", e)
	}
	if len(store.listed) != 1 || store.listed[0].Limit != 100 {
		t.Fatalf("unexpected list call: %+v", store.listed)
	}
}

func TestPurgeBeforeRecordsThePurge(t *testing.T) {
	store := &stubStore{purged: 42}
	svc := NewService(store)

	n, err := svc.PurgeBefore(context.Background(), "admin-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 42 {
		t.Fatalf("purged = %d, want 42", n)
	}
	if len(store.appended) != 1 {
		t.Fatalf("purge not audited")
	}
	e := store.appended[0]
	if e.Category != CategoryRetentionPurge || !strings.Contains(string(e.After), `"purged":42`) {
		t.Fatalf("unexpected purge event: %+v", e)
	}
}
