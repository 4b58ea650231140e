package docstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "docstore_test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	s, err := OpenDB(db)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet_RoundTrips(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := Document{ID: "inst-1", PK: "alice", Data: map[string]any{"name": "morning digest", "enabled": true}}
	if err := s.Upsert(ctx, "instructions", doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "instructions", "inst-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "inst-1" || got.PK != "alice" {
		t.Errorf("got = %+v, want id/pk inst-1/alice", got)
	}
	if got.Data["name"] != "morning digest" || got.Data["enabled"] != true {
		t.Errorf("got.Data = %v", got.Data)
	}
}

func TestGet_MissingDocumentErrors(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), "instructions", "does-not-exist"); err == nil {
		t.Error("expected an error fetching a missing document")
	}
}

func TestUpsert_OverwritesExistingDocument(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := Document{ID: "inst-1", PK: "alice", Data: map[string]any{"name": "v1"}}
	if err := s.Upsert(ctx, "instructions", doc); err != nil {
		t.Fatalf("Upsert v1: %v", err)
	}
	doc.PK = "bob"
	doc.Data = map[string]any{"name": "v2"}
	if err := s.Upsert(ctx, "instructions", doc); err != nil {
		t.Fatalf("Upsert v2: %v", err)
	}

	got, err := s.Get(ctx, "instructions", "inst-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PK != "bob" || got.Data["name"] != "v2" {
		t.Errorf("got = %+v, want overwritten pk=bob name=v2", got)
	}
}

func TestUpsert_EmptyIDRejected(t *testing.T) {
	s := testStore(t)
	if err := s.Upsert(context.Background(), "instructions", Document{PK: "alice"}); err == nil {
		t.Error("expected an error for an empty document id")
	}
}

func TestQuery_FiltersByPartitionKeyAndWhereFragment(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "a1", PK: "alice", Data: map[string]any{"kind": "email"}},
		{ID: "a2", PK: "alice", Data: map[string]any{"kind": "calendar"}},
		{ID: "b1", PK: "bob", Data: map[string]any{"kind": "email"}},
	}
	for _, d := range docs {
		if err := s.Upsert(ctx, "instructions", d); err != nil {
			t.Fatalf("Upsert %q: %v", d.ID, err)
		}
	}

	alice, err := s.Query(ctx, "instructions", "pk = ?", "alice")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("len(alice) = %d, want 2", len(alice))
	}

	unfiltered, err := s.Query(ctx, "instructions", "")
	if err != nil {
		t.Fatalf("Query unfiltered: %v", err)
	}
	if len(unfiltered) != 3 {
		t.Errorf("len(unfiltered) = %d, want 3", len(unfiltered))
	}
}

func TestQuery_DoesNotLeakAcrossContainers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "instructions", Document{ID: "x1", PK: "alice", Data: map[string]any{}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, "context", Document{ID: "x1", PK: "alice", Data: map[string]any{}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Query(ctx, "instructions", "pk = ?", "alice")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(got) = %d, want 1 (container isolation)", len(got))
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "instructions", Document{ID: "inst-1", PK: "alice", Data: map[string]any{}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "instructions", "inst-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "instructions", "inst-1"); err == nil {
		t.Error("expected Get to fail after Delete")
	}
	if err := s.Delete(ctx, "instructions", "inst-1"); err != nil {
		t.Errorf("second Delete should be a no-op, got err: %v", err)
	}
	if err := s.Delete(ctx, "instructions", "never-existed"); err != nil {
		t.Errorf("Delete of unknown id should not error, got: %v", err)
	}
}
