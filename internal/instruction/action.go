package instruction

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/nugget/aios-runtime/internal/event"
)

// ExecuteAction produces the zero-or-more events instr.Action dictates
// for a matched event e. Unknown
// action types are a logged no-op at the caller (Matcher.Process); this
// function returns a descriptive error for them instead so callers that
// want stricter behavior can choose to fail loud.
func ExecuteAction(instr *Instruction, e event.Event, now time.Time) ([]event.Event, error) {
	switch instr.Action.Type {
	case ActionUpdateContextSummary:
		return executeUpdateContextSummary(instr, e)
	case ActionCreateTask:
		return executeCreateTask(instr, e)
	case ActionConseilTask:
		return executeConseilTask(instr, e)
	case ActionSendNotification:
		return executeSendNotification(instr, e)
	case ActionSendEmail:
		return executeSendEmail(instr, e)
	case ActionScheduleAction:
		return executeScheduleAction(instr, e)
	default:
		return nil, fmt.Errorf("instruction: unknown action type %q", instr.Action.Type)
	}
}

func executeUpdateContextSummary(instr *Instruction, e event.Event) ([]event.Event, error) {
	contextKey, _ := instr.Action.Config["context_key"].(string)
	if contextKey == "" {
		contextKey = instr.Name
	}
	synthesisPrompt, _ := instr.Action.Config["synthesis_prompt"].(string)

	content, err := renderSummary(e)
	if err != nil {
		return nil, err
	}

	out, err := event.NewContextUpdateEvent("instruction", e.UserID, contextKey, event.ContextOpSynthesize, content, synthesisPrompt)
	if err != nil {
		return nil, err
	}
	out = out.WithHistory(e)
	return []event.Event{out}, nil
}

// renderSummary extracts a markdown summary from e's typed subevent
// fields when available, falling back to a generic summary, then
// renders it to HTML with goldmark the way the email driver renders
// outgoing message bodies.
func renderSummary(e event.Event) (string, error) {
	var md string
	switch {
	case hasEmailFields(e):
		op, provider, data, _ := event.EmailFields(e)
		subject, _ := data["subject"].(string)
		from, _ := data["from"].(string)
		body, _ := data["body"].(string)
		md = fmt.Sprintf("**%s** (%s via %s)\n\nFrom: %s\n\n%s", subject, op, provider, from, body)
	case hasCalendarFields(e):
		_, provider, data, _ := event.CalendarFields(e)
		summary, _ := data["summary"].(string)
		md = fmt.Sprintf("**%s** (%s)", summary, provider)
	default:
		md = fmt.Sprintf("Event `%s` from `%s` at %s", e.Type, e.Source, e.Timestamp.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("instruction: render summary: %w", err)
	}
	return buf.String(), nil
}

func hasEmailFields(e event.Event) bool {
	_, _, _, ok := event.EmailFields(e)
	return ok
}

func hasCalendarFields(e event.Event) bool {
	_, _, _, ok := event.CalendarFields(e)
	return ok
}

func executeCreateTask(instr *Instruction, e event.Event) ([]event.Event, error) {
	template, _ := instr.Action.Config["template"].(string)
	task := interpolate(template, e)
	out, err := event.NewWorkerTaskEvent("instruction", "worker.task", e.UserID, task, nil, "", 0)
	if err != nil {
		return nil, err
	}
	out = out.WithHistory(e)
	return []event.Event{out}, nil
}

func executeConseilTask(instr *Instruction, e event.Event) ([]event.Event, error) {
	complexity, _ := instr.Action.Config["complexity"].(string)
	fallback, _ := instr.Action.Config["fallback_action"].(string)
	template, _ := instr.Action.Config["template"].(string)
	if template == "" {
		template = "Handle {event_type} for {user_id}"
	}
	prompt := interpolate(template, e)

	out, err := event.NewWorkerTaskEvent("instruction", "worker.task", e.UserID, prompt, nil, "", 0)
	if err != nil {
		return nil, err
	}
	out.Metadata["agent"] = "conseil"
	out.Metadata["complexity"] = complexity
	out.Metadata["trigger_event"] = e.Type
	out.Metadata["fallback_action"] = fallback
	out = out.WithHistory(e)
	return []event.Event{out}, nil
}

func executeSendNotification(instr *Instruction, e event.Event) ([]event.Event, error) {
	title, _ := instr.Action.Config["title"].(string)
	message, _ := instr.Action.Config["message"].(string)
	priority, _ := instr.Action.Config["priority"].(string)
	channel, _ := instr.Action.Config["channel"].(string)

	out, err := event.New("instruction", "notification.send", e.UserID)
	if err != nil {
		return nil, err
	}
	out.Metadata["title"] = interpolate(title, e)
	out.Metadata["message"] = interpolate(message, e)
	out.Metadata["priority"] = priority
	out.Metadata["channel"] = channel
	out = out.WithHistory(e)
	return []event.Event{out}, nil
}

func executeSendEmail(instr *Instruction, e event.Event) ([]event.Event, error) {
	provider, _ := instr.Action.Config["provider"].(string)
	to, _ := instr.Action.Config["to"].(string)
	subject, _ := instr.Action.Config["subject"].(string)
	bodyTemplate, _ := instr.Action.Config["body"].(string)

	emailData := map[string]any{
		"to":      to,
		"subject": interpolate(subject, e),
		"body":    interpolate(bodyTemplate, e),
	}
	out, err := event.NewEmailEvent("instruction", "email.send", e.UserID, "send", provider, emailData)
	if err != nil {
		return nil, err
	}
	out = out.WithHistory(e)
	return []event.Event{out}, nil
}

func executeScheduleAction(instr *Instruction, e event.Event) ([]event.Event, error) {
	cron, _ := instr.Action.Config["cron"].(string)
	eventTemplate, _ := instr.Action.Config["event"].(map[string]any)
	if eventTemplate == nil {
		eventTemplate = map[string]any{"type": "instruction.scheduled"}
	}

	out, err := event.New("instruction", "schedule.create", e.UserID)
	if err != nil {
		return nil, err
	}
	out.Metadata["cron"] = cron
	out.Metadata["event"] = eventTemplate
	out = out.WithHistory(e)
	return []event.Event{out}, nil
}

// interpolate replaces {event_type}, {user_id}, {timestamp} in template
// with e's corresponding fields.
func interpolate(template string, e event.Event) string {
	r := strings.NewReplacer(
		"{event_type}", e.Type,
		"{user_id}", e.UserID,
		"{timestamp}", e.Timestamp.Format(time.RFC3339),
	)
	return r.Replace(template)
}
