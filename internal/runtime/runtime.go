// Package runtime constructs and owns every core component: the event
// bus, driver registry, security manager, scheduler, instruction
// matcher, plan executor, universal processor, and the document store
// and debug websocket bridge that back them. There are no
// process-global singletons: everything hangs off this one
// constructed object — nothing here touches a package-level
// variable.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/config"
	"github.com/nugget/aios-runtime/internal/docstore"
	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
	"github.com/nugget/aios-runtime/internal/instruction"
	"github.com/nugget/aios-runtime/internal/plan"
	"github.com/nugget/aios-runtime/internal/policy"
	"github.com/nugget/aios-runtime/internal/processor"
	"github.com/nugget/aios-runtime/internal/scheduler"
	"github.com/nugget/aios-runtime/internal/security"
	"github.com/nugget/aios-runtime/internal/wsbridge"
)

// Runtime owns every core component's lifetime. Build with New, then
// Start before accepting events and Stop on shutdown.
type Runtime struct {
	logger *slog.Logger
	cfg    *config.Config

	Bus         *bus.Bus
	Registry    *driver.Registry
	Security    *security.Manager
	Scheduler   *scheduler.Scheduler
	Instruction *instruction.Matcher
	Plan        *plan.Executor
	Processor   *processor.Processor
	Docstore    docstore.Store
	WSBridge    *wsbridge.Bridge

	schedStore *scheduler.Store
	procSubID  string
}

// New constructs a Runtime from cfg but does not start any background
// loop or open the process's signal handling; call Start for that.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := docstore.Open(cfg.Docstore.DBPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: open docstore: %w", err)
	}

	ledger, err := security.NewCostLedger(cfg.Security.CostLedgerPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: open cost ledger: %w", err)
	}
	audit := security.NewAuditLog()
	policies := policy.Defaults(cfg.Security.CostThresholdUSD, cfg.Security.DailyEventLimit)
	sec := security.New(logger, policies, audit, ledger.MonthlyCost)

	b := bus.New(logger)
	registry := driver.New(logger)

	schedStore, err := scheduler.NewStore(cfg.Scheduler.DBPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: open scheduler store: %w", err)
	}
	sched := scheduler.New(logger, b, schedStore)
	if d, err := time.ParseDuration(cfg.Scheduler.IntervalPeriod); err == nil {
		sched.SetIntervalPeriod(d)
	}
	if d, err := time.ParseDuration(cfg.Scheduler.CronPeriod); err == nil {
		sched.SetCronPeriod(d)
	}

	instrStore := instruction.NewDocStore(docs)
	matcher := instruction.New(logger, instrStore)

	planExecutor := plan.New(logger)

	proc := processor.New(logger, b, registry, sec, matcher)

	rt := &Runtime{
		logger:      logger,
		cfg:         cfg,
		Bus:         b,
		Registry:    registry,
		Security:    sec,
		Scheduler:   sched,
		Instruction: matcher,
		Plan:        planExecutor,
		Processor:   proc,
		Docstore:    docs,
		schedStore:  schedStore,
	}

	if cfg.WSBridge.Enabled {
		rt.WSBridge = wsbridge.New(logger, b, bus.Filter{})
	}

	return rt, nil
}

// Start registers the plan executor as a driver, starts the
// scheduler's ticker loops, and subscribes the processor to every
// event emitted on the bus so every Emit call is routed through
// process_event.
//
// The scheduler is deliberately not also registered into the driver
// registry: Scheduler.Start already subscribes itself directly to
// schedule.create/update/delete so it keeps working in deployments
// that run it standalone, without a processor. Routing those same
// events through the registry here too would invoke
// Scheduler.HandleEvent a second time per event and create each
// schedule record twice.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Registry.RegisterDriver(planManifest(), func() driver.Driver { return rt.Plan }, nil); err != nil {
		return fmt.Errorf("runtime: register plan executor driver: %w", err)
	}

	if err := rt.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("runtime: start scheduler: %w", err)
	}

	rt.procSubID = rt.Bus.SubscribeTap(bus.Filter{}, func(e event.Event) {
		rt.Processor.ProcessEvent(ctx, e)
	})

	rt.logger.Info("runtime started")
	return nil
}

// RegisterDriver registers an additional driver (typically one of the
// refdrivers packages) into the registry.
func (rt *Runtime) RegisterDriver(manifest driver.Manifest, factory driver.Factory, cfg map[string]any) error {
	return rt.Registry.RegisterDriver(manifest, factory, cfg)
}

// Stop stops the scheduler, unsubscribes the processor, and closes
// every owned store. Drivers registered into the registry are stopped
// by the caller (typically cmd/aiosd) via Registry.StopDriver before
// calling Stop, since only the caller knows which ones it started.
func (rt *Runtime) Stop(ctx context.Context) {
	if rt.procSubID != "" {
		rt.Bus.Unsubscribe(rt.procSubID)
	}
	rt.Scheduler.Stop()
	if closer, ok := rt.Docstore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			rt.logger.Error("runtime: close docstore", "error", err)
		}
	}
	if err := rt.schedStore.Close(); err != nil {
		rt.logger.Error("runtime: close scheduler store", "error", err)
	}
	rt.logger.Info("runtime stopped")
}

func planManifest() driver.Manifest {
	return driver.Manifest{
		ID:         "core.plan",
		Name:       "Plan Executor",
		Version:    "1.0.0",
		DriverType: driver.TypeAgent,
		Capabilities: []string{
			"plan.register", "plan.execute", "plan.trigger", "plan.unregister",
			"cron.configure", "event.cron.configured",
		},
		Enabled: true,
	}
}
