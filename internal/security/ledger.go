package security

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// CostEntry is one billable event charged against a user's monthly
// cost. It is deliberately generic: the true cost model (LLM tokens ×
// provider rate, call minutes, ...) belongs to whoever records the
// entries, and monthly_cost(user) is the only policy-facing surface.
type CostEntry struct {
	ID        string
	Timestamp time.Time
	UserID    string
	EventType string
	AmountUSD float64
}

// CostLedger is an append-only SQLite store of cost entries, the
// default backing for the monthly_cost(user) context variable.
type CostLedger struct {
	db *sql.DB
}

// NewCostLedger opens (and migrates) a cost ledger at dbPath.
func NewCostLedger(dbPath string) (*CostLedger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cost ledger: %w", err)
	}
	return NewCostLedgerWithDB(db)
}

// NewCostLedgerWithDB migrates and wraps an already-open database
// handle. Lets tests supply a handle opened with the pure-Go sqlite
// driver.
func NewCostLedgerWithDB(db *sql.DB) (*CostLedger, error) {
	l := &CostLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cost ledger schema: %w", err)
	}
	return l, nil
}

func (l *CostLedger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cost_entries (
		id         TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		event_type TEXT NOT NULL,
		amount_usd REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_user_ts ON cost_entries(user_id, timestamp);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (l *CostLedger) Close() error {
	return l.db.Close()
}

// Charge records a cost entry. If e.ID is empty a UUIDv7 is generated;
// if e.Timestamp is zero, now is used.
func (l *CostLedger) Charge(ctx context.Context, e CostEntry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate cost entry id: %w", err)
		}
		e.ID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cost_entries (id, timestamp, user_id, event_type, amount_usd) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.UserID, e.EventType, e.AmountUSD,
	)
	if err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}
	return nil
}

// MonthlyCost sums amount_usd for userID over the 30 days preceding
// now. This is the default monthly_cost(user) implementation; callers
// that want a different cost model (e.g. LLM tokens times provider
// rate) supply their own CostFunc instead of this method.
func (l *CostLedger) MonthlyCost(userID string, now time.Time) (float64, error) {
	cutoff := now.Add(-30 * 24 * time.Hour)
	row := l.db.QueryRow(
		`SELECT COALESCE(SUM(amount_usd), 0) FROM cost_entries WHERE user_id = ? AND timestamp >= ?`,
		userID, cutoff.UTC().Format(time.RFC3339),
	)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("query monthly cost: %w", err)
	}
	return total, nil
}

// SummaryByEventType returns per-event-type totals for userID over
// the window [start, end), for the "system status" CLI command.
func (l *CostLedger) SummaryByEventType(userID string, start, end time.Time) (map[string]float64, error) {
	rows, err := l.db.Query(
		`SELECT event_type, COALESCE(SUM(amount_usd), 0) FROM cost_entries
		 WHERE user_id = ? AND timestamp >= ? AND timestamp < ?
		 GROUP BY event_type ORDER BY SUM(amount_usd) DESC`,
		userID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query cost by event type: %w", err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var key string
		var sum float64
		if err := rows.Scan(&key, &sum); err != nil {
			return nil, fmt.Errorf("scan cost by event type: %w", err)
		}
		result[key] = sum
	}
	return result, rows.Err()
}
