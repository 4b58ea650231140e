package security

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testLedger(t *testing.T) *CostLedger {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cost_ledger_test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	l, err := NewCostLedgerWithDB(db)
	if err != nil {
		t.Fatalf("NewCostLedgerWithDB: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestCostLedger_MonthlyCost(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []CostEntry{
		{Timestamp: now, UserID: "alice", EventType: "worker.task", AmountUSD: 10.0},
		{Timestamp: now, UserID: "alice", EventType: "llm.chat", AmountUSD: 5.5},
		{Timestamp: now, UserID: "bob", EventType: "worker.task", AmountUSD: 100.0},
	}
	for _, e := range entries {
		if err := l.Charge(ctx, e); err != nil {
			t.Fatalf("Charge: %v", err)
		}
	}

	cost, err := l.MonthlyCost("alice", now)
	if err != nil {
		t.Fatalf("MonthlyCost: %v", err)
	}
	if diff := cost - 15.5; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("alice MonthlyCost = %f, want 15.5", cost)
	}
}

func TestCostLedger_MonthlyCost_ExcludesOlderThan30Days(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := l.Charge(ctx, CostEntry{Timestamp: now.Add(-40 * 24 * time.Hour), UserID: "alice", EventType: "x", AmountUSD: 99.0}); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if err := l.Charge(ctx, CostEntry{Timestamp: now, UserID: "alice", EventType: "x", AmountUSD: 1.0}); err != nil {
		t.Fatalf("Charge: %v", err)
	}

	cost, err := l.MonthlyCost("alice", now)
	if err != nil {
		t.Fatalf("MonthlyCost: %v", err)
	}
	if cost != 1.0 {
		t.Errorf("MonthlyCost = %f, want 1.0 (stale entry excluded)", cost)
	}
}

func TestCostLedger_MonthlyCost_NoEntries(t *testing.T) {
	l := testLedger(t)
	cost, err := l.MonthlyCost("nobody", time.Now())
	if err != nil {
		t.Fatalf("MonthlyCost: %v", err)
	}
	if cost != 0 {
		t.Errorf("MonthlyCost for unknown user = %f, want 0", cost)
	}
}

func TestCostLedger_SummaryByEventType(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []CostEntry{
		{Timestamp: now, UserID: "alice", EventType: "worker.task", AmountUSD: 4.0},
		{Timestamp: now, UserID: "alice", EventType: "worker.task", AmountUSD: 1.0},
		{Timestamp: now, UserID: "alice", EventType: "llm.chat", AmountUSD: 2.0},
	}
	for _, e := range entries {
		if err := l.Charge(ctx, e); err != nil {
			t.Fatalf("Charge: %v", err)
		}
	}

	start := now.Add(-time.Minute)
	end := now.Add(time.Minute)
	result, err := l.SummaryByEventType("alice", start, end)
	if err != nil {
		t.Fatalf("SummaryByEventType: %v", err)
	}
	if result["worker.task"] != 5.0 {
		t.Errorf("worker.task total = %f, want 5.0", result["worker.task"])
	}
	if result["llm.chat"] != 2.0 {
		t.Errorf("llm.chat total = %f, want 2.0", result["llm.chat"])
	}
}
