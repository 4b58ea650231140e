package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/config"
	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Docstore.DBPath = filepath.Join(dir, "docstore.db")
	cfg.Security.CostLedgerPath = filepath.Join(dir, "cost_ledger.db")
	cfg.Scheduler.DBPath = filepath.Join(dir, "scheduler.db")
	return cfg
}

func TestNew_WiresAllCoreComponents(t *testing.T) {
	rt, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rt.Bus == nil || rt.Registry == nil || rt.Security == nil || rt.Scheduler == nil ||
		rt.Instruction == nil || rt.Plan == nil || rt.Processor == nil || rt.Docstore == nil {
		t.Fatal("New left a core component nil")
	}
}

func TestStart_RoutesEmittedEventsThroughTheProcessor(t *testing.T) {
	rt, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var seen []event.Event
	rt.Bus.Subscribe(bus.Filter{EventTypes: []string{"probe.observed"}}, func(e event.Event) {
		seen = append(seen, e)
	})

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(ctx)

	probeManifest := driver.Manifest{
		ID:           "test.probe",
		Name:         "Probe",
		Version:      "1.0.0",
		DriverType:   driver.TypeTool,
		Capabilities: []string{"probe.ping"},
		Enabled:      true,
	}
	if err := rt.RegisterDriver(probeManifest, func() driver.Driver { return &probeDriver{} }, nil); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	e, err := event.New("test", "probe.ping", "u1")
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if _, err := rt.Bus.Emit(e); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(seen) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(seen) != 1 {
		t.Fatalf("observed %d probe.observed events, want 1", len(seen))
	}
}

// probeDriver is a minimal driver.Driver that turns probe.ping into
// probe.observed, exercising the registry -> processor -> bus loop
// end to end.
type probeDriver struct{}

func (probeDriver) Initialize(context.Context, map[string]any) error { return nil }

func (probeDriver) HandleEvent(_ context.Context, e event.Event) ([]event.Event, error) {
	if e.Type != "probe.ping" {
		return nil, nil
	}
	out, err := event.New("test.probe", "probe.observed", e.UserID)
	if err != nil {
		return nil, err
	}
	return []event.Event{out.WithHistory(e)}, nil
}

func (probeDriver) Shutdown(context.Context) error { return nil }

func TestStart_RegistersPlanExecutorDriverOnly(t *testing.T) {
	rt, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(ctx)

	if !rt.Registry.HasMatchingDriver("plan.register") {
		t.Error("plan executor driver not registered for plan.register")
	}
	if rt.Registry.HasMatchingDriver("schedule.create") {
		t.Error("scheduler must not also be registered into the driver registry (would double-process schedule.create)")
	}
}

func TestStart_SchedulerCRUDStillReachesTheScheduler(t *testing.T) {
	rt, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(ctx)

	e, err := event.New("test", "schedule.create", "u1")
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	e.Metadata["interval"] = "PT1H"
	e.Metadata["event"] = map[string]any{"type": "probe.ping"}
	if _, err := rt.Bus.Emit(e); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for rt.Scheduler.Stats()["interval"] == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := rt.Scheduler.Stats()["interval"]; got != 1 {
		t.Fatalf("scheduler interval record count = %v, want 1 (exactly once, not double-created)", got)
	}
}
