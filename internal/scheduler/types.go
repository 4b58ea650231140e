// Package scheduler implements the cron/interval/absolute job
// scheduler: three independently-locked tables of schedule
// records, a background ticker loop that emits due events onto the bus,
// and SQLite-backed persistence so schedules survive restarts.
package scheduler

import "time"

// Kind identifies which of the scheduler's three tables a record
// lives in.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindAbsolute Kind = "absolute"
)

// EventTemplate is the shape a Record's fired event is built from:
// {type, metadata}. user_id and source are supplied by the scheduler
// itself (the record's UserID and "scheduler"), not the template.
type EventTemplate struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Record is one entry in a schedule table.
// Expression holds the kind-specific schedule text: a standard 5-field
// cron expression for KindCron, an ISO-8601 duration ("PT5M") for
// KindInterval, or an RFC3339 timestamp for KindAbsolute.
type Record struct {
	ID            string
	UserID        string
	Kind          Kind
	Expression    string
	EventTemplate EventTemplate
	Enabled       bool
	CreatedAt     time.Time
	LastTriggered *time.Time
	NextTrigger   time.Time
	RunCount      int
}

// ExecutionStatus records the outcome of one firing attempt, kept for
// operator visibility into missed/skipped executions. Missed firings
// are skipped, not replayed, but the skip is recorded rather than
// silent.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
)

// Execution is one observed firing (or skip) of a schedule record.
type Execution struct {
	ID          string
	ScheduleID  string
	ScheduledAt time.Time
	CompletedAt time.Time
	Status      ExecutionStatus
	Detail      string
	RunCount    int
}
