package scheduler

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)

	r := &Record{
		UserID:        "user-1",
		Kind:          KindInterval,
		Expression:    "PT5M",
		EventTemplate: EventTemplate{Type: "report.tick"},
		Enabled:       true,
		NextTrigger:   time.Now().UTC().Add(5 * time.Minute),
	}
	if err := s.Create(r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	got, err := s.Get(r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.Kind != KindInterval || got.Expression != "PT5M" {
		t.Errorf("got %+v", got)
	}
	if got.EventTemplate.Type != "report.tick" {
		t.Errorf("EventTemplate.Type = %q", got.EventTemplate.Type)
	}
}

func TestStore_ListEnabledExcludesDisabled(t *testing.T) {
	s := newTestStore(t)

	on := &Record{UserID: "u", Kind: KindCron, Expression: "0 * * * *", EventTemplate: EventTemplate{Type: "x"}, Enabled: true, NextTrigger: time.Now()}
	off := &Record{UserID: "u", Kind: KindCron, Expression: "0 * * * *", EventTemplate: EventTemplate{Type: "y"}, Enabled: false, NextTrigger: time.Now()}
	if err := s.Create(on); err != nil {
		t.Fatalf("Create(on): %v", err)
	}
	if err := s.Create(off); err != nil {
		t.Fatalf("Create(off): %v", err)
	}

	got, err := s.ListEnabled()
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(got) != 1 || got[0].ID != on.ID {
		t.Errorf("ListEnabled = %+v, want just %q", got, on.ID)
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t)

	r := &Record{UserID: "u", Kind: KindCron, Expression: "0 * * * *", EventTemplate: EventTemplate{Type: "x"}, Enabled: true, NextTrigger: time.Now()}
	if err := s.Create(r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.RunCount = 3
	r.Enabled = false
	if err := s.Update(r); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.Get(r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunCount != 3 || got.Enabled {
		t.Errorf("got %+v after update", got)
	}

	if err := s.Delete(r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(r.ID); err == nil {
		t.Error("expected error getting deleted record")
	}
}

func TestStore_RecordAndListExecutions(t *testing.T) {
	s := newTestStore(t)

	r := &Record{UserID: "u", Kind: KindCron, Expression: "0 * * * *", EventTemplate: EventTemplate{Type: "x"}, Enabled: true, NextTrigger: time.Now()}
	if err := s.Create(r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC()
	if err := s.RecordExecution(Execution{ScheduleID: r.ID, ScheduledAt: now, CompletedAt: now, Status: StatusCompleted, RunCount: 1}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if err := s.RecordExecution(Execution{ScheduleID: r.ID, ScheduledAt: now, CompletedAt: now, Status: StatusSkipped, Detail: "missed while offline", RunCount: 2}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	execs, err := s.ListExecutions(r.ID, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("len(execs) = %d, want 2", len(execs))
	}
}
