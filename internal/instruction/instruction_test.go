package instruction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
)

type memStore struct {
	byUser map[string][]*Instruction
}

func newMemStore(instrs ...*Instruction) *memStore {
	m := &memStore{byUser: make(map[string][]*Instruction)}
	for _, i := range instrs {
		m.byUser[i.UserID] = append(m.byUser[i.UserID], i)
	}
	return m
}

func (m *memStore) ListForUser(_ context.Context, userID string) ([]*Instruction, error) {
	return m.byUser[userID], nil
}

func (m *memStore) Save(_ context.Context, instr *Instruction) error {
	return nil
}

func TestMatch_ExactWildcardAndPrefix(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e, _ := event.New("src", "email.received", "u1")

	cases := []struct {
		trigger string
		want    bool
	}{
		{"email.received", true},
		{"*", true},
		{"email.*", true},
		{"calendar.*", false},
		{"calendar.created", false},
	}
	for _, tc := range cases {
		instr := &Instruction{Trigger: Trigger{EventType: tc.trigger}}
		if got := Match(e, instr, now); got != tc.want {
			t.Errorf("Match(trigger=%q) = %v, want %v", tc.trigger, got, tc.want)
		}
	}
}

func TestMatch_TimeRangeExcludesOutsideWindow(t *testing.T) {
	e, _ := event.New("src", "email.received", "u1")
	instr := &Instruction{
		Trigger: Trigger{
			EventType:  "email.received",
			Conditions: Conditions{TimeRange: &TimeRange{StartHour: 9, EndHour: 17}},
		},
	}

	inside := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)

	if !Match(e, instr, inside) {
		t.Error("expected match inside time range")
	}
	if Match(e, instr, outside) {
		t.Error("expected no match outside time range")
	}
}

func TestMatch_ContentFiltersRequireAllTerms(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e, err := event.NewEmailEvent("src", "email.received", "u1", "received", "gmail", map[string]any{
		"subject": "Invoice #42 is due",
		"from":    "billing@example.com",
	})
	if err != nil {
		t.Fatalf("NewEmailEvent: %v", err)
	}
	instr := &Instruction{
		Trigger: Trigger{
			EventType: "email.received",
			Conditions: Conditions{ContentFilters: []ContentFilter{
				{Field: "subject", Terms: []string{"invoice", "#42"}},
			}},
		},
	}
	if !Match(e, instr, now) {
		t.Error("expected content filter match")
	}

	instr.Trigger.Conditions.ContentFilters[0].Terms = append(instr.Trigger.Conditions.ContentFilters[0].Terms, "refund")
	if Match(e, instr, now) {
		t.Error("expected no match once an absent term is required")
	}
}

func TestProcess_EmailToContextUpdate(t *testing.T) {
	now := time.Now()
	e, err := event.NewEmailEvent("gmail-poller", "email.received", "u1", "received", "gmail", map[string]any{
		"subject": "Invoice #42",
		"from":    "billing@example.com",
		"body":    "Please pay promptly.",
	})
	if err != nil {
		t.Fatalf("NewEmailEvent: %v", err)
	}

	instr := &Instruction{
		ID:      "i1",
		UserID:  "u1",
		Name:    "invoices",
		Enabled: true,
		Trigger: Trigger{EventType: "email.received"},
		Action:  Action{Type: ActionUpdateContextSummary, Config: map[string]any{"context_key": "invoices"}},
	}
	store := newMemStore(instr)
	m := New(nil, store)

	out, err := m.Process(context.Background(), e, now)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	contextKey, updateOp, content, _, ok := event.ContextUpdateFields(out[0])
	if !ok {
		t.Fatal("expected a ContextUpdateEvent")
	}
	if contextKey != "invoices" {
		t.Errorf("context_key = %q, want %q", contextKey, "invoices")
	}
	if updateOp != event.ContextOpSynthesize {
		t.Errorf("update_operation = %q, want %q", updateOp, event.ContextOpSynthesize)
	}
	if !strings.Contains(content, "Invoice #42") {
		t.Errorf("content = %q, want it to contain %q", content, "Invoice #42")
	}
	if instr.ExecutionCount != 1 {
		t.Errorf("ExecutionCount = %d, want 1", instr.ExecutionCount)
	}
	if instr.LastExecuted == nil {
		t.Error("expected LastExecuted to be set")
	}
}

func TestProcess_SkipsInstructionAndContextEvents(t *testing.T) {
	instr := &Instruction{UserID: "u1", Enabled: true, Trigger: Trigger{EventType: "*"}, Action: Action{Type: ActionSendNotification}}
	store := newMemStore(instr)
	m := New(nil, store)

	ie, _ := event.NewInstructionEvent("src", "u1", "create", nil)
	out, err := m.Process(context.Background(), ie, time.Now())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no output for instruction.* event, got %d", len(out))
	}

	ce, _ := event.NewContextUpdateEvent("src", "u1", "k", event.ContextOpAppend, "c", "")
	out, err = m.Process(context.Background(), ce, time.Now())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no output for context.* event, got %d", len(out))
	}
}

func TestExecuteAction_SendEmailProducesExactlyOneEmailEvent(t *testing.T) {
	e, _ := event.New("src", "task.due", "u1")
	instr := &Instruction{
		Action: Action{Type: ActionSendEmail, Config: map[string]any{
			"provider": "gmail",
			"to":       "a@x.com",
			"subject":  "Reminder: {event_type}",
			"body":     "Triggered by {event_type} at {timestamp}",
		}},
	}
	out, err := ExecuteAction(instr, e, time.Now())
	if err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	op, _, data, ok := event.EmailFields(out[0])
	if !ok || op != "send" {
		t.Fatalf("expected a send EmailEvent, got %+v", out[0])
	}
	if data["subject"] != "Reminder: task.due" {
		t.Errorf("subject = %v", data["subject"])
	}
}

func TestExecuteAction_UnknownTypeErrors(t *testing.T) {
	e, _ := event.New("src", "x", "u1")
	instr := &Instruction{Action: Action{Type: "not_a_real_action"}}
	if _, err := ExecuteAction(instr, e, time.Now()); err == nil {
		t.Error("expected an error for an unknown action type")
	}
}
