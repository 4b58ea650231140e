package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/event"
)

// DefaultIntervalPeriod and DefaultCronPeriod are the default tick
// periods for the interval/absolute table and the cron table,
// respectively.
const (
	DefaultIntervalPeriod = 30 * time.Second
	DefaultCronPeriod     = 60 * time.Second
)

var standardCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// table is one of the scheduler's three record tables, each under its
// own lock.
type table struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newTable() *table { return &table{records: make(map[string]*Record)} }

func (t *table) put(r *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[r.ID] = r
}

func (t *table) delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

func (t *table) get(id string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	return r, ok
}

func (t *table) due(now time.Time) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []*Record
	for _, r := range t.records {
		if r.Enabled && !r.NextTrigger.After(now) {
			due = append(due, r)
		}
	}
	return due
}

// Scheduler drives time-triggered events: three record
// tables, a background ticker loop per table group, and bus-driven
// CRUD via schedule.create/update/delete events.
type Scheduler struct {
	logger *slog.Logger
	bus    *bus.Bus
	store  *Store

	intervalPeriod time.Duration
	cronPeriod     time.Duration

	cron     *table
	interval *table
	absolute *table

	subID   string
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New constructs a Scheduler. A nil logger is replaced with
// slog.Default().
func New(logger *slog.Logger, b *bus.Bus, store *Store) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:         logger,
		bus:            b,
		store:          store,
		intervalPeriod: DefaultIntervalPeriod,
		cronPeriod:     DefaultCronPeriod,
		cron:           newTable(),
		interval:       newTable(),
		absolute:       newTable(),
		stopCh:         make(chan struct{}),
	}
}

// Start loads every enabled record from the store, recomputes each
// one's next_trigger relative to now — firings missed while offline
// are skipped, not replayed — and starts the ticker loops. It also subscribes to schedule.create/
// update/delete on the bus so CRUD events drive the scheduler directly.
// This is also a driver.Driver (see HandleEvent below) for deployments
// that wire it through the registry instead of a shared bus, but the
// runtime package deliberately registers only one of the two paths at
// a time to avoid processing the same CRUD event twice.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	records, err := s.store.ListEnabled()
	if err != nil {
		return fmt.Errorf("scheduler: load records: %w", err)
	}
	now := time.Now().UTC()
	for _, r := range records {
		missed := r.NextTrigger.Before(now)
		next, err := nextTrigger(r.Kind, r.Expression, now)
		if err != nil {
			s.logger.Error("scheduler: dropping record with invalid expression on restart", "id", r.ID, "error", err)
			continue
		}
		r.NextTrigger = next
		if missed {
			_ = s.store.RecordExecution(Execution{
				ScheduleID:  r.ID,
				ScheduledAt: r.NextTrigger,
				CompletedAt: now,
				Status:      StatusSkipped,
				Detail:      "missed while offline, not replayed",
				RunCount:    r.RunCount,
			})
		}
		s.tableFor(r.Kind).put(r)
	}

	if s.bus != nil {
		s.subID = s.bus.Subscribe(bus.Filter{EventTypes: []string{"schedule.create", "schedule.update", "schedule.delete"}}, s.onScheduleCRUD)
	}

	s.wg.Add(2)
	go s.loop(s.intervalPeriod, func(now time.Time) { s.tick(s.interval, now); s.tick(s.absolute, now) })
	go s.loop(s.cronPeriod, func(now time.Time) { s.tick(s.cron, now) })

	s.logger.Info("scheduler started", "records", len(records))
	return nil
}

// SetIntervalPeriod overrides the tick period for the interval/absolute
// table group. Must be called before Start.
func (s *Scheduler) SetIntervalPeriod(d time.Duration) {
	if d > 0 {
		s.intervalPeriod = d
	}
}

// SetCronPeriod overrides the tick period for the cron table. Must be
// called before Start.
func (s *Scheduler) SetCronPeriod(d time.Duration) {
	if d > 0 {
		s.cronPeriod = d
	}
}

// Stop halts the ticker loops and unsubscribes from the bus.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	if s.bus != nil && s.subID != "" {
		s.bus.Unsubscribe(s.subID)
	}
}

func (s *Scheduler) loop(period time.Duration, tick func(time.Time)) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			tick(now.UTC())
		}
	}
}

func (s *Scheduler) tableFor(k Kind) *table {
	switch k {
	case KindCron:
		return s.cron
	case KindAbsolute:
		return s.absolute
	default:
		return s.interval
	}
}

// tick fires every record in t whose next_trigger has passed. Emit
// failures are logged and next_trigger is advanced anyway to avoid
// tight-loop retries; jobs are not retried automatically.
func (s *Scheduler) tick(t *table, now time.Time) {
	for _, r := range t.due(now) {
		s.fire(t, r, now)
	}
}

func (s *Scheduler) fire(t *table, r *Record, now time.Time) {
	e, err := s.buildEvent(r, now)
	status := StatusCompleted
	detail := ""
	if err != nil {
		s.logger.Error("scheduler: failed to build event from template", "schedule_id", r.ID, "error", err)
		status = StatusFailed
		detail = err.Error()
	} else if _, err := s.bus.Emit(e); err != nil {
		s.logger.Error("scheduler: emit failed", "schedule_id", r.ID, "error", err)
		status = StatusFailed
		detail = err.Error()
	}

	r.RunCount++
	r.LastTriggered = &now
	exec := Execution{ScheduleID: r.ID, ScheduledAt: r.NextTrigger, CompletedAt: now, Status: status, Detail: detail, RunCount: r.RunCount}

	next, nextErr := nextTrigger(r.Kind, r.Expression, now)
	if nextErr != nil || r.Kind == KindAbsolute {
		// Absolute schedules are one-shot; once fired (or once their
		// expression can no longer produce a future trigger) they are
		// disabled rather than left spinning at a stale next_trigger.
		r.Enabled = false
		t.delete(r.ID)
	} else {
		r.NextTrigger = next
	}

	if err := s.store.Update(r); err != nil {
		s.logger.Error("scheduler: persist updated record failed", "schedule_id", r.ID, "error", err)
	}
	if err := s.store.RecordExecution(exec); err != nil {
		s.logger.Error("scheduler: persist execution failed", "schedule_id", r.ID, "error", err)
	}
}

// buildEvent materializes r's event_template into a concrete event,
// stamping scheduled_time, schedule_id, and run_count.
func (s *Scheduler) buildEvent(r *Record, now time.Time) (event.Event, error) {
	if r.EventTemplate.Type == "" {
		return event.Event{}, fmt.Errorf("scheduler: record %q has an empty event_template.type", r.ID)
	}
	e, err := event.New("scheduler", r.EventTemplate.Type, r.UserID)
	if err != nil {
		return event.Event{}, err
	}
	for k, v := range r.EventTemplate.Metadata {
		e.Metadata[k] = v
	}
	e.Metadata["schedule_id"] = r.ID
	e.Metadata["run_count"] = r.RunCount + 1
	e.Metadata["scheduled_time"] = now.UTC().Format(time.RFC3339Nano)
	return e, nil
}

// nextTrigger computes the next firing time after now for the given
// kind/expression.
func nextTrigger(kind Kind, expression string, now time.Time) (time.Time, error) {
	switch kind {
	case KindCron:
		sched, err := standardCronParser.Parse(expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", expression, err)
		}
		return sched.Next(now), nil
	case KindInterval:
		d, err := parseISO8601Duration(expression)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	case KindAbsolute:
		t, err := time.Parse(time.RFC3339, expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid absolute timestamp %q: %w", expression, err)
		}
		if !t.After(now) {
			return time.Time{}, fmt.Errorf("scheduler: absolute timestamp %q is not in the future", expression)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown kind %q", kind)
	}
}

// Create validates and persists a new record, computing its initial
// next_trigger, and registers it in the appropriate in-memory table.
func (s *Scheduler) Create(r *Record) error {
	next, err := nextTrigger(r.Kind, r.Expression, time.Now().UTC())
	if err != nil {
		return err
	}
	r.NextTrigger = next
	r.Enabled = true
	if err := s.store.Create(r); err != nil {
		return err
	}
	s.tableFor(r.Kind).put(r)
	return nil
}

// Update applies field overrides to an existing record and reschedules
// it if its kind or expression changed.
func (s *Scheduler) Update(id string, overrides map[string]any) error {
	r, err := s.store.Get(id)
	if err != nil {
		return fmt.Errorf("scheduler: update %q: %w", id, err)
	}
	if kind, ok := overrides["kind"].(string); ok {
		r.Kind = Kind(kind)
	}
	if expr, ok := overrides["expression"].(string); ok {
		r.Expression = expr
	}
	if enabled, ok := overrides["enabled"].(bool); ok {
		r.Enabled = enabled
	}
	next, err := nextTrigger(r.Kind, r.Expression, time.Now().UTC())
	if err != nil {
		return err
	}
	r.NextTrigger = next
	if err := s.store.Update(r); err != nil {
		return err
	}
	s.tableFor(r.Kind).put(r)
	return nil
}

// List returns every record currently loaded in the scheduler's three
// in-memory tables, across all kinds. Order is unspecified.
func (s *Scheduler) List() []*Record {
	var out []*Record
	for _, t := range []*table{s.cron, s.interval, s.absolute} {
		t.mu.Lock()
		for _, r := range t.records {
			out = append(out, r)
		}
		t.mu.Unlock()
	}
	return out
}

// Delete removes a record from the store and every in-memory table.
func (s *Scheduler) Delete(id string) error {
	s.cron.delete(id)
	s.interval.delete(id)
	s.absolute.delete(id)
	return s.store.Delete(id)
}

// onScheduleCRUD handles schedule.create/update/delete events delivered
// via bus subscription.
func (s *Scheduler) onScheduleCRUD(e event.Event) {
	if _, err := s.HandleEvent(context.Background(), e); err != nil {
		s.logger.Error("scheduler: schedule CRUD event failed", "event_type", e.Type, "error", err)
	}
}

// HandleEvent implements driver.Driver so the scheduler can also be
// registered into the driver registry with capabilities
// schedule.create/update/delete, so schedule CRUD also reaches the
// persistent schedule store through the registry's normal routing.
func (s *Scheduler) HandleEvent(_ context.Context, e event.Event) ([]event.Event, error) {
	switch e.Type {
	case "schedule.create":
		r, err := recordFromCreateMetadata(e)
		if err != nil {
			return nil, err
		}
		return nil, s.Create(r)
	case "schedule.update":
		id, _ := e.Metadata["schedule_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("scheduler: schedule.update missing schedule_id")
		}
		return nil, s.Update(id, e.Metadata)
	case "schedule.delete":
		id, _ := e.Metadata["schedule_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("scheduler: schedule.delete missing schedule_id")
		}
		return nil, s.Delete(id)
	default:
		return nil, nil
	}
}

func recordFromCreateMetadata(e event.Event) (*Record, error) {
	r := &Record{UserID: e.UserID}
	switch {
	case e.Metadata["cron"] != nil:
		r.Kind = KindCron
		r.Expression, _ = e.Metadata["cron"].(string)
	case e.Metadata["interval"] != nil:
		r.Kind = KindInterval
		r.Expression, _ = e.Metadata["interval"].(string)
	case e.Metadata["run_at"] != nil:
		r.Kind = KindAbsolute
		r.Expression, _ = e.Metadata["run_at"].(string)
	default:
		return nil, fmt.Errorf("scheduler: schedule.create missing cron/interval/run_at")
	}
	tmplRaw, ok := e.Metadata["event"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("scheduler: schedule.create missing event template")
	}
	r.EventTemplate.Type, _ = tmplRaw["type"].(string)
	if md, ok := tmplRaw["metadata"].(map[string]any); ok {
		r.EventTemplate.Metadata = md
	}
	return r, nil
}

// Initialize implements driver.Driver. The scheduler is already usable
// once constructed; Initialize only validates it has what it needs.
func (s *Scheduler) Initialize(_ context.Context, _ map[string]any) error {
	if s.bus == nil {
		return fmt.Errorf("scheduler: no bus configured")
	}
	return nil
}

// Shutdown implements driver.Driver.
func (s *Scheduler) Shutdown(_ context.Context) error {
	s.Stop()
	return nil
}

// Stats reports simple scheduler counters for the "system status" CLI
// command.
func (s *Scheduler) Stats() map[string]any {
	count := func(t *table) int {
		t.mu.Lock()
		defer t.mu.Unlock()
		return len(t.records)
	}
	return map[string]any{
		"cron":     count(s.cron),
		"interval": count(s.interval),
		"absolute": count(s.absolute),
	}
}
