package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/aios-runtime/internal/event"
)

// Executor is the plan executor: it holds the
// registered plans in a single-locked table (mirroring the scheduler's
// per-kind tables) and reacts to plan.* and cron.configure events.
type Executor struct {
	logger *slog.Logger

	mu    sync.Mutex
	plans map[string]*Plan
}

// New constructs an Executor. A nil logger is replaced with
// slog.Default().
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, plans: make(map[string]*Plan)}
}

// Register validates p, derives its EventTriggers/Capabilities, and
// stores it as the active application record for p.ID, replacing any
// prior registration with the same id.
func (ex *Executor) Register(p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.plans[p.ID] = p
	return nil
}

// Unregister removes planID's active in-memory state.
func (ex *Executor) Unregister(planID string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	delete(ex.plans, planID)
}

// Get returns the registered plan for planID, if any.
func (ex *Executor) Get(planID string) (*Plan, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	p, ok := ex.plans[planID]
	return p, ok
}

// Plans returns every currently registered plan.
func (ex *Executor) Plans() []*Plan {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make([]*Plan, 0, len(ex.plans))
	for _, p := range ex.plans {
		out = append(out, p)
	}
	return out
}

// HandleEvent implements driver.Driver, so the executor can be
// registered into the Driver Registry with capabilities
// plan.register/execute/trigger/unregister and cron.configure /
// event.cron.configured.
func (ex *Executor) HandleEvent(_ context.Context, e event.Event) ([]event.Event, error) {
	switch e.Type {
	case "plan.register":
		return ex.handleRegister(e)
	case "plan.execute":
		return ex.handleExecute(e)
	case "plan.trigger":
		return ex.handleTrigger(e)
	case "cron.configure", "event.cron.configured":
		return ex.handleCronConfigure(e)
	case "plan.unregister":
		return ex.handleUnregister(e)
	default:
		return nil, nil
	}
}

// handleRegister implements plan.register: validate, derive, store,
// and emit a plan.schedule summary plus one schedule.create event per
// declared time-triggered plan event.
func (ex *Executor) handleRegister(e event.Event) ([]event.Event, error) {
	raw, ok := e.Metadata["plan"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("plan: plan.register missing metadata.plan")
	}
	p, err := parsePlan(raw)
	if err != nil {
		return nil, err
	}
	if err := ex.Register(p); err != nil {
		return nil, err
	}

	var out []event.Event

	scheduleSummary, err := event.New("plan", "plan.schedule", e.UserID)
	if err != nil {
		return nil, err
	}
	scheduleSummary.Metadata["plan_id"] = p.ID
	scheduleSummary.Metadata["event_triggers"] = toAnySlice(p.EventTriggers)
	scheduleSummary.Metadata["capabilities"] = toAnySlice(p.Capabilities)
	out = append(out, scheduleSummary.WithHistory(e))

	for _, pe := range p.Events {
		if !isTimeTriggered(pe.Kind) {
			continue
		}
		createEvt, err := ex.buildScheduleCreate(e.UserID, p.ID, pe)
		if err != nil {
			ex.logger.Error("plan: failed to build schedule.create for plan event", "plan_id", p.ID, "event", pe.Name, "error", err)
			continue
		}
		out = append(out, createEvt.WithHistory(e))
	}
	return out, nil
}

// buildScheduleCreate builds the schedule.create event that installs
// pe as a scheduler record whose fired event carries plan_id.
func (ex *Executor) buildScheduleCreate(userID, planID string, pe Event) (event.Event, error) {
	out, err := event.New("plan", "schedule.create", userID)
	if err != nil {
		return event.Event{}, err
	}
	out.Metadata[pe.scheduleMetadataKey()] = pe.Schedule
	out.Metadata["event"] = map[string]any{
		"type": pe.Name,
		"metadata": map[string]any{
			"plan_id": planID,
		},
	}
	return out, nil
}

// handleExecute implements plan.execute: setup then trigger declared
// external events, one plan.trigger event per external plan event.
func (ex *Executor) handleExecute(e event.Event) ([]event.Event, error) {
	planID, _ := e.Metadata["plan_id"].(string)
	p, ok := ex.Get(planID)
	if !ok {
		return nil, fmt.Errorf("plan: plan.execute references unknown plan_id %q", planID)
	}

	var out []event.Event
	for _, pe := range p.Events {
		if pe.Kind != EventKindExternal {
			continue
		}
		trigger, err := event.New("plan", "plan.trigger", e.UserID)
		if err != nil {
			return nil, err
		}
		trigger.Metadata["plan_id"] = p.ID
		trigger.Metadata["event_name"] = pe.Name
		out = append(out, trigger.WithHistory(e))
	}
	return out, nil
}

// handleTrigger implements plan.trigger: for each step whose On list
// contains the trigger event name, emit a plan.step.execute event.
func (ex *Executor) handleTrigger(e event.Event) ([]event.Event, error) {
	planID, _ := e.Metadata["plan_id"].(string)
	eventName, _ := e.Metadata["event_name"].(string)
	p, ok := ex.Get(planID)
	if !ok {
		return nil, fmt.Errorf("plan: plan.trigger references unknown plan_id %q", planID)
	}

	var out []event.Event
	for _, s := range p.Steps {
		if !containsString(s.On, eventName) {
			continue
		}
		step, err := event.New("plan", "plan.step.execute", e.UserID)
		if err != nil {
			return nil, err
		}
		step.Metadata["plan_id"] = p.ID
		step.Metadata["step_name"] = s.Name
		step.Metadata["action"] = s.Action
		step.Metadata["args"] = s.Args
		step.Metadata["emits"] = toAnySlice(s.Emits)
		step.Metadata["trigger_event"] = eventName
		out = append(out, step.WithHistory(e))
	}
	return out, nil
}

// handleCronConfigure translates cron.configure / event.cron.configured
// into a schedule.create event targeting the scheduler.
func (ex *Executor) handleCronConfigure(e event.Event) ([]event.Event, error) {
	planID, _ := e.Metadata["plan_id"].(string)
	eventName, _ := e.Metadata["event_name"].(string)
	cronExpr, _ := e.Metadata["cron"].(string)
	if eventName == "" || cronExpr == "" {
		return nil, fmt.Errorf("plan: %s missing event_name/cron", e.Type)
	}

	out, err := event.New("plan", "schedule.create", e.UserID)
	if err != nil {
		return nil, err
	}
	out.Metadata["cron"] = cronExpr
	meta := map[string]any{"type": eventName}
	if planID != "" {
		meta["metadata"] = map[string]any{"plan_id": planID}
	}
	out.Metadata["event"] = meta
	return []event.Event{out.WithHistory(e)}, nil
}

// handleUnregister implements plan.unregister.
func (ex *Executor) handleUnregister(e event.Event) ([]event.Event, error) {
	planID, _ := e.Metadata["plan_id"].(string)
	if planID == "" {
		return nil, fmt.Errorf("plan: plan.unregister missing plan_id")
	}
	ex.Unregister(planID)
	return nil, nil
}

// Initialize implements driver.Driver.
func (ex *Executor) Initialize(context.Context, map[string]any) error { return nil }

// Shutdown implements driver.Driver.
func (ex *Executor) Shutdown(context.Context) error { return nil }

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
