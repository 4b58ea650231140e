// Package processor implements the universal event processor:
// the top-level pipeline that validates, authorizes, routes, and
// re-publishes every event that enters the runtime, recording metrics
// along the way.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
	"github.com/nugget/aios-runtime/internal/metrics"
	"github.com/nugget/aios-runtime/internal/security"
)

// InstructionMatcher is the subset of *instruction.Matcher the
// processor depends on, so tests can supply a stub instead of wiring a
// real store.
type InstructionMatcher interface {
	Process(ctx context.Context, e event.Event, now time.Time) ([]event.Event, error)
}

// noopMatcher is used when the processor is constructed without an
// instruction matcher (e.g. a minimal runtime that only routes to
// drivers).
type noopMatcher struct{}

func (noopMatcher) Process(context.Context, event.Event, time.Time) ([]event.Event, error) {
	return nil, nil
}

// Processor is the Universal Processor component.
type Processor struct {
	logger   *slog.Logger
	bus      *bus.Bus
	registry *driver.Registry
	security *security.Manager
	matcher  InstructionMatcher
	now      func() time.Time
}

// New constructs a Processor. A nil logger is replaced with
// slog.Default(); a nil matcher degrades to a no-op (driver-routing
// only).
func New(logger *slog.Logger, b *bus.Bus, registry *driver.Registry, sec *security.Manager, matcher InstructionMatcher) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if matcher == nil {
		matcher = noopMatcher{}
	}
	return &Processor{
		logger:   logger,
		bus:      b,
		registry: registry,
		security: sec,
		matcher:  matcher,
		now:      time.Now,
	}
}

// ProcessEvent runs e through validate → authorize → drain-check →
// route → publish → record-metrics. It never returns an error to the
// caller: every failure mode is represented as either a metric or an
// `error` event emitted back onto the bus, so every input event yields
// either zero outputs or one-or-more outputs.
func (p *Processor) ProcessEvent(ctx context.Context, e event.Event) {
	start := p.now()
	defer func() {
		metrics.RecordProcessed(e.Type, p.now().Sub(start))
	}()

	if err := e.Validate(); err != nil {
		p.emitError(e, err, "validation")
		return
	}

	decision := p.security.Authorize(e)
	if !decision.Authorized {
		metrics.RecordDenied(e.Type)
		return
	}

	if !p.registry.HasMatchingDriver(e.Type) && !p.bus.HasSubscribers(e.Type) {
		metrics.RecordOrphaned(e.Type)
		return
	}

	var outputs []event.Event
	outputs = append(outputs, p.registry.RouteEvent(ctx, e)...)

	matched, err := p.matcher.Process(ctx, e, p.now())
	if err != nil {
		p.emitError(e, err, "instruction_match")
	} else {
		outputs = append(outputs, matched...)
	}

	for _, out := range outputs {
		out.CorrelationID = e.ID
		if _, err := p.bus.Emit(out); err != nil {
			p.logger.Error("processor: failed to re-emit output event", "event_type", out.Type, "error", err)
		}
	}
}

// emitError builds and emits an `error` event carrying
// {original_event, error, error_type}.
func (p *Processor) emitError(original event.Event, cause error, errorType string) {
	metrics.RecordErrored(errorType)

	errEvent, err := event.New("processor", "error", valueOrSystem(original.UserID))
	if err != nil {
		p.logger.Error("processor: failed to construct error event", "error", err)
		return
	}
	errEvent.Metadata["original_event"] = original.ToMap()
	errEvent.Metadata["error"] = cause.Error()
	errEvent.Metadata["error_type"] = errorType
	errEvent = errEvent.WithHistory(original)

	if _, err := p.bus.Emit(errEvent); err != nil {
		p.logger.Error("processor: failed to emit error event", "error", err)
	}
}

func valueOrSystem(userID string) string {
	if userID == "" {
		return "system"
	}
	return userID
}
