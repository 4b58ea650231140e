package instruction

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/aios-runtime/internal/docstore"
)

func testDocStore(t *testing.T) *DocStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "instructions_test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	docs, err := docstore.OpenDB(db)
	if err != nil {
		t.Fatalf("docstore.OpenDB: %v", err)
	}
	t.Cleanup(func() { docs.Close() })
	return NewDocStore(docs)
}

func TestDocStore_SaveAndListForUserRoundTrips(t *testing.T) {
	s := testDocStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	instr := &Instruction{
		ID:          "instr-1",
		UserID:      "alice",
		Name:        "invoice to context",
		Description: "summarize invoice emails",
		Trigger: Trigger{
			EventType: "email.received",
			Providers: []string{"gmail"},
			Conditions: Conditions{
				TimeRange:      &TimeRange{StartHour: 9, EndHour: 17},
				ContentFilters: []ContentFilter{{Field: "subject", Terms: []string{"invoice"}}},
			},
		},
		Action: Action{
			Type:   ActionUpdateContextSummary,
			Config: map[string]any{"context_key": "invoices"},
		},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Save(ctx, instr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}

	gi := got[0]
	if gi.ID != "instr-1" || gi.UserID != "alice" || gi.Name != instr.Name {
		t.Errorf("got = %+v", gi)
	}
	if gi.Trigger.EventType != "email.received" || len(gi.Trigger.Providers) != 1 || gi.Trigger.Providers[0] != "gmail" {
		t.Errorf("trigger = %+v", gi.Trigger)
	}
	if gi.Trigger.Conditions.TimeRange == nil || gi.Trigger.Conditions.TimeRange.StartHour != 9 || gi.Trigger.Conditions.TimeRange.EndHour != 17 {
		t.Errorf("time range = %+v", gi.Trigger.Conditions.TimeRange)
	}
	if len(gi.Trigger.Conditions.ContentFilters) != 1 || gi.Trigger.Conditions.ContentFilters[0].Field != "subject" {
		t.Errorf("content filters = %+v", gi.Trigger.Conditions.ContentFilters)
	}
	if gi.Action.Type != ActionUpdateContextSummary || gi.Action.Config["context_key"] != "invoices" {
		t.Errorf("action = %+v", gi.Action)
	}
	if !gi.Enabled {
		t.Error("expected instruction to be enabled")
	}
	if !gi.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", gi.CreatedAt, now)
	}
}

func TestDocStore_ListForUserIsolatesByUser(t *testing.T) {
	s := testDocStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, &Instruction{ID: "a1", UserID: "alice", Trigger: Trigger{EventType: "*"}, Action: Action{Type: ActionSendNotification}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, &Instruction{ID: "b1", UserID: "bob", Trigger: Trigger{EventType: "*"}, Action: Action{Type: ActionSendNotification}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	alice, err := s.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(alice) != 1 || alice[0].ID != "a1" {
		t.Errorf("alice's instructions = %+v, want just a1", alice)
	}
}

func TestDocStore_SaveRecordsExecutionBookkeeping(t *testing.T) {
	s := testDocStore(t)
	ctx := context.Background()

	instr := &Instruction{ID: "a1", UserID: "alice", Trigger: Trigger{EventType: "*"}, Action: Action{Type: ActionSendNotification}}
	if err := s.Save(ctx, instr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	executed := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	instr.ExecutionCount = 3
	instr.LastExecuted = &executed
	if err := s.Save(ctx, instr); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, err := s.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].ExecutionCount != 3 {
		t.Errorf("execution_count = %d, want 3", got[0].ExecutionCount)
	}
	if got[0].LastExecuted == nil || !got[0].LastExecuted.Equal(executed) {
		t.Errorf("last_executed = %v, want %v", got[0].LastExecuted, executed)
	}
}

func TestDocStore_SaveRejectsEmptyID(t *testing.T) {
	s := testDocStore(t)
	err := s.Save(context.Background(), &Instruction{UserID: "alice"})
	if err == nil {
		t.Error("expected an error saving an instruction with no id")
	}
}
