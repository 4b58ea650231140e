// Package instruction implements the instruction matcher:
// persisted event→action rules that translate external events into
// downstream action events (context updates, tasks, notifications,
// emails, schedules).
package instruction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
)

// Known action kinds.
const (
	ActionUpdateContextSummary = "update_context_summary"
	ActionCreateTask           = "create_task"
	ActionConseilTask          = "conseil_task"
	ActionSendNotification     = "send_notification"
	ActionSendEmail            = "send_email"
	ActionScheduleAction       = "schedule_action"
)

// TimeRange is an inclusive hour-of-day window, local to the runtime's
// configured timezone (UTC unless the caller's now() says otherwise).
type TimeRange struct {
	StartHour int
	EndHour   int
}

// ContentFilter declares a set of substrings that must all appear,
// case-insensitively, in one named field of an EmailEvent's email_data
// ("subject" or "from").
type ContentFilter struct {
	Field string
	Terms []string
}

// Conditions narrows when a Trigger matches beyond its event type.
type Conditions struct {
	TimeRange      *TimeRange
	ContentFilters []ContentFilter
}

// Trigger selects which events an Instruction considers. EventType
// supports exact match, "*", and "prefix.*" forms.
type Trigger struct {
	EventType  string
	Providers  []string
	Conditions Conditions
}

// Action names what to do when a Trigger matches, plus its
// kind-specific config (context_key, template, cron, provider, ...).
type Action struct {
	Type   string
	Config map[string]any
}

// Instruction is a persisted event→action rule.
type Instruction struct {
	ID             string
	UserID         string
	Name           string
	Description    string
	Trigger        Trigger
	Action         Action
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExecutionCount int
	LastExecuted   *time.Time
}

// Store persists Instructions. The matcher only ever reads the user's
// rule set and writes back execution bookkeeping; instruction
// authoring (create/update/delete) lives with whatever owns the
// document store.
type Store interface {
	ListForUser(ctx context.Context, userID string) ([]*Instruction, error)
	Save(ctx context.Context, instr *Instruction) error
}

// Matcher is the Instruction Matcher component.
type Matcher struct {
	logger *slog.Logger
	store  Store
}

// New constructs a Matcher. A nil logger is replaced with slog.Default().
func New(logger *slog.Logger, store Store) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger, store: store}
}

// skipLoopPrevention reports whether e must never be matched against
// instructions: events whose type starts with instruction. or
// context. are skipped, preventing instruction/context-update events
// from re-triggering instructions
// that produce more of the same.
func skipLoopPrevention(e event.Event) bool {
	return strings.HasPrefix(e.Type, "instruction.") || strings.HasPrefix(e.Type, "context.")
}

// Process matches e against every enabled instruction owned by
// e.UserID and executes the action of each match, returning the
// concatenation of all produced events in match order. Unknown action
// types are logged and skipped, not errors; a malformed instruction
// does not prevent the others from running.
func (m *Matcher) Process(ctx context.Context, e event.Event, now time.Time) ([]event.Event, error) {
	if skipLoopPrevention(e) {
		return nil, nil
	}

	instrs, err := m.store.ListForUser(ctx, e.UserID)
	if err != nil {
		return nil, fmt.Errorf("instruction: list for user %q: %w", e.UserID, err)
	}

	var out []event.Event
	for _, instr := range instrs {
		if !instr.Enabled {
			continue
		}
		if !Match(e, instr, now) {
			continue
		}
		produced, err := ExecuteAction(instr, e, now)
		if err != nil {
			m.logger.Error("instruction: action execution failed", "instruction_id", instr.ID, "action_type", instr.Action.Type, "error", err)
			continue
		}
		out = append(out, produced...)

		instr.ExecutionCount++
		t := now
		instr.LastExecuted = &t
		if err := m.store.Save(ctx, instr); err != nil {
			m.logger.Error("instruction: failed to persist execution bookkeeping", "instruction_id", instr.ID, "error", err)
		}
	}
	return out, nil
}
