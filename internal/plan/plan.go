// Package plan implements the plan executor: multi-step
// workflows registered as applications, whose declared cron/interval
// events become schedules and whose steps fire on matching events.
package plan

import (
	"fmt"
)

// EventKind classifies how a plan's declared event is triggered.
type EventKind string

const (
	EventKindCron     EventKind = "time.cron"
	EventKindInterval EventKind = "time.interval"
	EventKindExternal EventKind = "external"
)

// Event is one entry in Plan.Events: a named occurrence the plan cares
// about, optionally time-triggered.
type Event struct {
	Name     string
	Kind     EventKind
	Schedule string // cron or ISO-8601 interval expression; required for time.* kinds
}

// Step is one unit of work in a plan: it fires when any event in On
// occurs, runs Action with Args, and may itself emit further events.
type Step struct {
	Name   string
	On     []string
	Action string
	Args   map[string]any
	Emits  []string
}

// Plan is a registered multi-step workflow. EventTriggers
// and Capabilities are derived by Validate, not supplied by the caller.
type Plan struct {
	ID            string
	Name          string
	Description   string
	Events        []Event
	Steps         []Step
	Version       string
	Author        string
	Enabled       bool
	EventTriggers []string
	Capabilities  []string
}

// eventNames returns the set of names declared by p.Events.
func (p *Plan) eventNames() map[string]bool {
	names := make(map[string]bool, len(p.Events))
	for _, e := range p.Events {
		names[e.Name] = true
	}
	return names
}

// Validate checks the plan's structural invariants and derives
// EventTriggers/Capabilities. A step's on/emits name is accepted if it
// names a declared plan event; any other non-empty name is assumed to
// be a globally-known event type, since the plan executor has no
// registry of every event type in the system to check against; the
// check is therefore permissive for names it cannot resolve.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan: id must not be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("plan: name must not be empty")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan: %q must declare at least one step", p.ID)
	}

	declared := p.eventNames()
	for _, e := range p.Events {
		if e.Name == "" {
			return fmt.Errorf("plan: %q declares an event with an empty name", p.ID)
		}
		if (e.Kind == EventKindCron || e.Kind == EventKindInterval) && e.Schedule == "" {
			return fmt.Errorf("plan: %q event %q of kind %q requires a schedule", p.ID, e.Name, e.Kind)
		}
	}

	triggers := make(map[string]bool)
	caps := make(map[string]bool)
	for _, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("plan: %q declares a step with an empty name", p.ID)
		}
		if s.Action == "" {
			return fmt.Errorf("plan: step %q of %q must declare an action", s.Name, p.ID)
		}
		for _, on := range s.On {
			if on == "" {
				return fmt.Errorf("plan: step %q of %q has an empty 'on' entry", s.Name, p.ID)
			}
			triggers[on] = true
		}
		for _, emits := range s.Emits {
			if emits == "" {
				return fmt.Errorf("plan: step %q of %q has an empty 'emits' entry", s.Name, p.ID)
			}
			caps["emit."+emits] = true
		}
		caps["action."+s.Action] = true
	}
	for name := range declared {
		triggers[name] = true
	}

	p.EventTriggers = sortedKeys(triggers)
	p.Capabilities = sortedKeys(caps)
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Small sets; insertion-order independence matters more than speed
	// here, and callers (tests, audit logs) expect a stable order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// parsePlan builds a Plan from a decoded metadata map, the shape a
// plan.register event carries its payload in (metadata["plan"]).
func parsePlan(raw map[string]any) (*Plan, error) {
	p := &Plan{}
	p.ID, _ = raw["id"].(string)
	p.Name, _ = raw["name"].(string)
	p.Description, _ = raw["description"].(string)
	p.Version, _ = raw["version"].(string)
	p.Author, _ = raw["author"].(string)
	if enabled, ok := raw["enabled"].(bool); ok {
		p.Enabled = enabled
	} else {
		p.Enabled = true
	}

	if rawEvents, ok := raw["events"].([]any); ok {
		for _, re := range rawEvents {
			m, ok := re.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			kind, _ := m["kind"].(string)
			schedule, _ := m["schedule"].(string)
			if kind == "" {
				kind = string(EventKindExternal)
			}
			p.Events = append(p.Events, Event{Name: name, Kind: EventKind(kind), Schedule: schedule})
		}
	}

	if rawSteps, ok := raw["steps"].([]any); ok {
		for _, rs := range rawSteps {
			m, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			action, _ := m["action"].(string)
			args, _ := m["args"].(map[string]any)
			p.Steps = append(p.Steps, Step{
				Name:   name,
				On:     toStringSlice(m["on"]),
				Action: action,
				Args:   args,
				Emits:  toStringSlice(m["emits"]),
			})
		}
	}

	if p.ID == "" {
		return nil, fmt.Errorf("plan: metadata missing required field \"id\"")
	}
	return p, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// isTimeTriggered reports whether e's kind installs a schedule.
func isTimeTriggered(kind EventKind) bool {
	return kind == EventKindCron || kind == EventKindInterval
}

func (e Event) scheduleMetadataKey() string {
	if e.Kind == EventKindCron {
		return "cron"
	}
	return "interval"
}
