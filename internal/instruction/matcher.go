package instruction

import (
	"strings"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
)

// Match reports whether e satisfies instr's Trigger. All populated
// trigger conditions must hold.
func Match(e event.Event, instr *Instruction, now time.Time) bool {
	if !matchesEventType(instr.Trigger.EventType, e.Type) {
		return false
	}
	if len(instr.Trigger.Providers) > 0 && !matchesProvider(instr.Trigger.Providers, e) {
		return false
	}
	if instr.Trigger.Conditions.TimeRange != nil && !matchesTimeRange(*instr.Trigger.Conditions.TimeRange, now) {
		return false
	}
	if len(instr.Trigger.Conditions.ContentFilters) > 0 && !matchesContentFilters(instr.Trigger.Conditions.ContentFilters, e) {
		return false
	}
	return true
}

// matchesEventType accepts three trigger forms: exact match, "*"
// (matches anything), or "prefix.*" (matches anything starting with
// prefix).
func matchesEventType(trigger, eventType string) bool {
	if trigger == "*" || trigger == eventType {
		return true
	}
	if strings.HasSuffix(trigger, ".*") {
		prefix := strings.TrimSuffix(trigger, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}

// matchesProvider implements point 2: when the event carries a
// provider (EmailEvent/CalendarEvent's "provider" metadata field), it
// must be in the trigger's declared provider list.
func matchesProvider(providers []string, e event.Event) bool {
	provider, ok := e.Metadata["provider"].(string)
	if !ok || provider == "" {
		// No provider on the event: the condition can't exclude it.
		return true
	}
	for _, p := range providers {
		if p == provider {
			return true
		}
	}
	return false
}

// matchesTimeRange implements point 3: the current hour must lie in
// [start_hour, end_hour], inclusive on both ends.
func matchesTimeRange(tr TimeRange, now time.Time) bool {
	hour := now.Hour()
	return hour >= tr.StartHour && hour <= tr.EndHour
}

// matchesContentFilters implements point 4: only applies to
// EmailEvents; every filter's terms must all appear, case-insensitive,
// in the named email_data field.
func matchesContentFilters(filters []ContentFilter, e event.Event) bool {
	_, _, data, ok := event.EmailFields(e)
	if !ok {
		return false
	}
	for _, f := range filters {
		fieldVal, _ := data[f.Field].(string)
		fieldVal = strings.ToLower(fieldVal)
		for _, term := range f.Terms {
			if !strings.Contains(fieldVal, strings.ToLower(term)) {
				return false
			}
		}
	}
	return true
}
