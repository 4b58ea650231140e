package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists schedule records and their execution history to
// SQLite: a schedules table and an append-only schedule_executions
// table, JSON-encoded blobs for the nested shapes.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a scheduler store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open store: %w", err)
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB migrates and wraps an already-open database handle.
// Lets tests supply a handle opened with the pure-Go sqlite driver.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: migrate store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		kind            TEXT NOT NULL,
		expression      TEXT NOT NULL,
		event_template  TEXT NOT NULL,
		enabled         INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL,
		last_triggered  TEXT,
		next_trigger    TEXT NOT NULL,
		run_count       INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_trigger ON schedules(kind, enabled, next_trigger);

	CREATE TABLE IF NOT EXISTS schedule_executions (
		id            TEXT PRIMARY KEY,
		schedule_id   TEXT NOT NULL,
		scheduled_at  TEXT NOT NULL,
		completed_at  TEXT NOT NULL,
		status        TEXT NOT NULL,
		detail        TEXT,
		run_count     INTEGER NOT NULL,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_exec_schedule ON schedule_executions(schedule_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a UUIDv7 (v4 fallback), the id scheme used throughout
// the runtime's persisted records.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Create persists a new record, assigning an id if absent.
func (s *Store) Create(r *Record) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	tmplJSON, err := json.Marshal(r.EventTemplate)
	if err != nil {
		return fmt.Errorf("scheduler: marshal event_template: %w", err)
	}
	var lastTriggered *string
	if r.LastTriggered != nil {
		ts := r.LastTriggered.UTC().Format(time.RFC3339Nano)
		lastTriggered = &ts
	}
	_, err = s.db.Exec(`
		INSERT INTO schedules (id, user_id, kind, expression, event_template, enabled, created_at, last_triggered, next_trigger, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, string(r.Kind), r.Expression, string(tmplJSON), boolToInt(r.Enabled),
		r.CreatedAt.UTC().Format(time.RFC3339Nano), lastTriggered, r.NextTrigger.UTC().Format(time.RFC3339Nano), r.RunCount)
	return err
}

// Update persists the full current state of r (next_trigger, run_count,
// last_triggered, enabled, expression all refreshed).
func (s *Store) Update(r *Record) error {
	tmplJSON, err := json.Marshal(r.EventTemplate)
	if err != nil {
		return fmt.Errorf("scheduler: marshal event_template: %w", err)
	}
	var lastTriggered *string
	if r.LastTriggered != nil {
		ts := r.LastTriggered.UTC().Format(time.RFC3339Nano)
		lastTriggered = &ts
	}
	_, err = s.db.Exec(`
		UPDATE schedules SET kind = ?, expression = ?, event_template = ?, enabled = ?,
			last_triggered = ?, next_trigger = ?, run_count = ?
		WHERE id = ?
	`, string(r.Kind), r.Expression, string(tmplJSON), boolToInt(r.Enabled),
		lastTriggered, r.NextTrigger.UTC().Format(time.RFC3339Nano), r.RunCount, r.ID)
	return err
}

// Delete removes a record and its execution history.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM schedule_executions WHERE schedule_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// Get retrieves one record by id.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, kind, expression, event_template, enabled, created_at, last_triggered, next_trigger, run_count
		FROM schedules WHERE id = ?
	`, id)
	return scanRecord(row)
}

// ListEnabled returns every enabled record, used on Start to rebuild
// the in-memory tables.
func (s *Store) ListEnabled() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, kind, expression, event_template, enabled, created_at, last_triggered, next_trigger, run_count
		FROM schedules WHERE enabled = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordExecution appends an observed firing/skip to the execution
// history.
func (s *Store) RecordExecution(e Execution) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	_, err := s.db.Exec(`
		INSERT INTO schedule_executions (id, schedule_id, scheduled_at, completed_at, status, detail, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ScheduleID, e.ScheduledAt.UTC().Format(time.RFC3339Nano),
		e.CompletedAt.UTC().Format(time.RFC3339Nano), string(e.Status), e.Detail, e.RunCount)
	return err
}

// ListExecutions returns the most recent executions for scheduleID,
// newest first, capped at limit (0 means 100).
func (s *Store) ListExecutions(scheduleID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, schedule_id, scheduled_at, completed_at, status, detail, run_count
		FROM schedule_executions WHERE schedule_id = ?
		ORDER BY scheduled_at DESC LIMIT ?
	`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var scheduledAt, completedAt string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.ScheduleID, &scheduledAt, &completedAt, &e.Status, &detail, &e.RunCount); err != nil {
			return nil, err
		}
		e.ScheduledAt, _ = time.Parse(time.RFC3339Nano, scheduledAt)
		e.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error)      { return scanInto(row) }
func scanRecordRow(rows *sql.Rows) (*Record, error) { return scanInto(rows) }

func scanInto(row scannable) (*Record, error) {
	var r Record
	var kind, tmplJSON, createdAt, nextTrigger string
	var lastTriggered sql.NullString
	var enabled int

	if err := row.Scan(&r.ID, &r.UserID, &kind, &r.Expression, &tmplJSON, &enabled, &createdAt, &lastTriggered, &nextTrigger, &r.RunCount); err != nil {
		return nil, err
	}
	r.Kind = Kind(kind)
	r.Enabled = enabled == 1
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.NextTrigger, _ = time.Parse(time.RFC3339Nano, nextTrigger)
	if lastTriggered.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastTriggered.String)
		r.LastTriggered = &t
	}
	if err := json.Unmarshal([]byte(tmplJSON), &r.EventTemplate); err != nil {
		return nil, fmt.Errorf("scheduler: unmarshal event_template: %w", err)
	}
	return &r, nil
}
