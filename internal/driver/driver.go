package driver

import (
	"context"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
)

// Driver is the interface every capability provider implements. The
// registry never mutates a driver after Initialize; Driver instances
// own whatever mutable state they need.
type Driver interface {
	// Initialize is called once, after construction, before the
	// instance is marked running. A non-nil error moves the instance
	// to StatusError and the driver is not started.
	Initialize(ctx context.Context, config map[string]any) error

	// HandleEvent processes a matched event and returns zero or more
	// output events. An error is logged and isolated to this driver —
	// it does not prevent other matching drivers from running, and
	// does not stop the registry from returning the other drivers'
	// output.
	HandleEvent(ctx context.Context, e event.Event) ([]event.Event, error)

	// Shutdown is called on stop_driver. Best-effort: an error is
	// logged, never re-raised.
	Shutdown(ctx context.Context) error
}

// Status is an instance's lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Factory constructs a new Driver for a manifest. Registered alongside
// the manifest so start_driver can build fresh instances.
type Factory func() Driver

// Instance is a running (or not-yet-running) driver plus its lifecycle
// bookkeeping.
type Instance struct {
	Driver       Driver
	Manifest     Manifest
	Status       Status
	ErrorMessage string
	EventCount   int
	LastActivity *time.Time
}
