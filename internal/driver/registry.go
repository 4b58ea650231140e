package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
)

// registration pairs a manifest with the factory that builds it, kept
// separate from Instance so stop_driver can remove the running
// instance while register_driver's metadata survives for a later
// start_driver call.
type registration struct {
	manifest Manifest
	factory  Factory
	config   map[string]any
}

// Registry holds manifests, the capability index, and live driver
// instances, all under a single lock.
type Registry struct {
	logger *slog.Logger

	mu            sync.Mutex
	registrations map[string]*registration
	instances     map[string]*Instance
	capabilityIdx map[string][]string // capability -> driver ids
}

// New creates an empty registry. A nil logger is replaced with
// slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:        logger,
		registrations: make(map[string]*registration),
		instances:     make(map[string]*Instance),
		capabilityIdx: make(map[string][]string),
	}
}

// RegisterDriver validates manifest, indexes its capabilities, and
// stores the factory for later start_driver calls. If manifest.Enabled
// is true, the driver is started immediately.
func (r *Registry) RegisterDriver(manifest Manifest, factory Factory, config map[string]any) error {
	if err := manifest.validate(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("driver: manifest %q registered with a nil factory", manifest.ID)
	}

	r.mu.Lock()
	if _, exists := r.registrations[manifest.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("driver: id %q already registered", manifest.ID)
	}
	r.registrations[manifest.ID] = &registration{manifest: manifest, factory: factory, config: config}
	for _, cap := range manifest.Capabilities {
		r.capabilityIdx[cap] = append(r.capabilityIdx[cap], manifest.ID)
	}
	r.mu.Unlock()

	if manifest.Enabled {
		return r.StartDriver(context.Background(), manifest.ID)
	}
	return nil
}

// StartDriver constructs the driver, calls Initialize, and marks it
// running. A failed Initialize moves the instance to StatusError and
// returns the error.
func (r *Registry) StartDriver(ctx context.Context, driverID string) error {
	r.mu.Lock()
	reg, ok := r.registrations[driverID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("driver: unknown id %q", driverID)
	}
	inst := &Instance{Manifest: reg.manifest, Status: StatusStarting}
	r.instances[driverID] = inst
	r.mu.Unlock()

	d := reg.factory()
	err := d.Initialize(ctx, reg.config)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		inst.Status = StatusError
		inst.ErrorMessage = err.Error()
		return fmt.Errorf("driver: initialize %q: %w", driverID, err)
	}
	inst.Driver = d
	inst.Status = StatusRunning
	return nil
}

// StopDriver calls Shutdown (best-effort: errors are logged, not
// returned) and removes the instance. The driver's manifest/factory
// registration is untouched, so it can be started again later.
func (r *Registry) StopDriver(ctx context.Context, driverID string) error {
	r.mu.Lock()
	inst, ok := r.instances[driverID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("driver: %q is not running", driverID)
	}

	if inst.Driver != nil {
		if err := inst.Driver.Shutdown(ctx); err != nil {
			r.logger.Error("driver: shutdown failed", "driver_id", driverID, "error", err)
		}
	}

	r.mu.Lock()
	delete(r.instances, driverID)
	r.mu.Unlock()
	return nil
}

// Status reports the current lifecycle state of driverID, or
// StatusStopped with ok=false if it was never started.
func (r *Registry) Status(driverID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[driverID]
	if !ok {
		return StatusStopped, false
	}
	return inst.Status, true
}

// Manifests returns the manifests of every registered driver.
func (r *Registry) Manifests() []Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Manifest, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, reg.manifest)
	}
	return out
}

// matchingDriverIDs returns the ids of running drivers whose capability
// set covers eventType, per the exact-match / "prefix.*" rule.
func (r *Registry) matchingDriverIDs(eventType string) []string {
	seen := make(map[string]bool)
	var ids []string
	for capability, driverIDs := range r.capabilityIdx {
		if !matchesCapability(capability, eventType) {
			continue
		}
		for _, id := range driverIDs {
			if inst, ok := r.instances[id]; ok && inst.Status == StatusRunning && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// RouteEvent dispatches e to every running driver whose capability
// matches e.Type, isolating failures: one driver raising an error does
// not prevent the others' output events from being returned, and the
// failing driver is moved to StatusError rather than left running.
func (r *Registry) RouteEvent(ctx context.Context, e event.Event) []event.Event {
	r.mu.Lock()
	ids := r.matchingDriverIDs(e.Type)
	targets := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, r.instances[id])
	}
	r.mu.Unlock()

	var out []event.Event
	for _, inst := range targets {
		produced, err := r.invoke(ctx, inst, e)
		if err != nil {
			r.logger.Error("driver: handle_event failed", "driver_id", inst.Manifest.ID, "event_type", e.Type, "error", err)
			r.mu.Lock()
			inst.Status = StatusError
			inst.ErrorMessage = err.Error()
			r.mu.Unlock()
			continue
		}
		out = append(out, produced...)
	}
	return out
}

func (r *Registry) invoke(ctx context.Context, inst *Instance, e event.Event) (produced []event.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("driver %q panicked: %v", inst.Manifest.ID, rec)
		}
	}()

	if timeout := inst.Manifest.Resources.TimeoutSec; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	produced, err = inst.Driver.HandleEvent(ctx, e)
	r.mu.Lock()
	inst.EventCount++
	now := time.Now().UTC()
	inst.LastActivity = &now
	r.mu.Unlock()
	return produced, err
}

// HasMatchingDriver reports whether any running driver's capability
// covers eventType, without actually routing to it. Used by the
// Universal Processor's orphan-event detection alongside the bus's own
// HasSubscribers check.
func (r *Registry) HasMatchingDriver(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matchingDriverIDs(eventType)) > 0
}
