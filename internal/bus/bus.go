// Package bus implements the event bus: filtered publish/subscribe with
// callback and bounded-stream delivery, plus a ring-buffer history.
//
// The bus does not block a publisher on a slow subscriber unless that
// subscriber's stream was opened with OverflowBlock. Callback
// subscribers run inline during Emit (in registration order); a panic
// or error from one callback is caught and logged and does not stop
// notification of the rest. Stream subscribers receive events over a
// bounded channel; when a stream's queue is full, the oldest queued
// event is dropped to make room (or, under OverflowDropNewest, the
// incoming event is dropped), for that stream only; under
// OverflowBlock the publisher waits for room instead.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/aios-runtime/internal/event"
)

// DefaultStreamCapacity is the default bound for a subscribe_stream
// queue.
const DefaultStreamCapacity = 1024

// DefaultHistoryCapacity bounds the in-memory ring buffer of published
// events that GetHistory can search.
const DefaultHistoryCapacity = 10000

// Delivery selects how a subscription receives matching events.
type Delivery string

const (
	DeliveryCallback Delivery = "callback"
	DeliveryStream   Delivery = "stream"
)

// OverflowPolicy controls what a Stream does when its queue is full.
// drop-oldest is the bus's default; drop-newest and block
// are exposed for callers that need different back-pressure semantics,
// but block is only safe for subscribers that are never on the
// publishing goroutine's call path.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	OverflowDropNewest OverflowPolicy = "drop-newest"
	OverflowBlock      OverflowPolicy = "block"
)

// Filter selects which events a subscription receives. A populated
// field must match; a nil/empty field is a wildcard. EventTypes here
// are exact-match only — prefix/"*" matching is a higher-level concern
// (package instruction), not the bus's.
type Filter struct {
	EventTypes []string
	Sources    []string
	UserIDs    []string
	Categories []event.Category
}

func (f Filter) matches(e event.Event) bool {
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, e.Type) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, e.Source) {
		return false
	}
	if len(f.UserIDs) > 0 && !contains(f.UserIDs, e.UserID) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsCategory(list []event.Category, v event.Category) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Stream is a bounded FIFO of events delivered to a stream subscription.
type Stream struct {
	C      <-chan event.Event
	c      chan event.Event
	policy OverflowPolicy
	drops  uint64
	mu     sync.Mutex
}

// Drops returns how many events have been dropped for this stream due
// to a full queue.
func (s *Stream) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

func (s *Stream) send(e event.Event) {
	switch s.policy {
	case OverflowBlock:
		s.c <- e
	case OverflowDropNewest:
		select {
		case s.c <- e:
		default:
			s.mu.Lock()
			s.drops++
			s.mu.Unlock()
		}
	default: // OverflowDropOldest
		for {
			select {
			case s.c <- e:
				return
			default:
			}
			select {
			case <-s.c:
				s.mu.Lock()
				s.drops++
				s.mu.Unlock()
			default:
				// Someone else drained it between our send attempt and
				// here; try sending again.
			}
		}
	}
}

type subscription struct {
	id       string
	filter   Filter
	delivery Delivery
	callback func(event.Event)
	stream   *Stream
	active   bool

	// tap subscriptions observe events but don't count as listeners
	// for HasSubscribers, so a catch-all observer (the universal
	// processor, a debug tail) doesn't defeat orphan detection.
	tap bool
}

// Bus is the central event router. The zero value is not usable; call
// New.
type Bus struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string]*subscription
	order   []string // registration order, for deterministic callback fan-out
	history []event.Event
	histCap int
}

// New creates a bus ready for use. A nil logger is replaced with
// slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:  logger,
		subs:    make(map[string]*subscription),
		histCap: DefaultHistoryCapacity,
	}
}

// Emit assigns an id to e if it doesn't have one, appends it to
// history, and synchronously notifies every matching subscriber.
// Callback subscribers are invoked inline, in subscription-registration
// order; a panic in a callback is recovered and logged so it cannot
// abort delivery to the remaining subscribers.
func (b *Bus) Emit(e event.Event) (string, error) {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		e.ID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.histCap {
		// Halve rather than pop one, matching the audit log's
		// amortized-trim strategy under sustained load.
		b.history = append([]event.Event{}, b.history[len(b.history)/2:]...)
	}
	snapshot := make([]*subscription, 0, len(b.order))
	for _, id := range b.order {
		if sub, ok := b.subs[id]; ok && sub.active {
			snapshot = append(snapshot, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		if !sub.filter.matches(e) {
			continue
		}
		switch sub.delivery {
		case DeliveryStream:
			sub.stream.send(e)
		default:
			b.invokeCallback(sub, e)
		}
	}

	return e.ID, nil
}

func (b *Bus) invokeCallback(sub *subscription, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: callback subscriber panicked", "subscription_id", sub.id, "error", r)
		}
	}()
	sub.callback(e)
}

// Subscribe registers a callback subscription and returns its id.
func (b *Bus) Subscribe(filter Filter, callback func(event.Event)) string {
	return b.subscribe(filter, callback, false)
}

// SubscribeTap registers a callback subscription that observes every
// matching event without counting as a listener for HasSubscribers.
// The runtime wires the universal processor with a tap so its
// catch-all subscription leaves orphan detection intact.
func (b *Bus) SubscribeTap(filter Filter, callback func(event.Event)) string {
	return b.subscribe(filter, callback, true)
}

func (b *Bus) subscribe(filter Filter, callback func(event.Event), tap bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subs[id] = &subscription{id: id, filter: filter, delivery: DeliveryCallback, callback: callback, active: true, tap: tap}
	b.order = append(b.order, id)
	return id
}

// SubscribeStream creates a bounded stream subscription and returns it
// along with its id for later Unsubscribe calls. capacity <= 0 uses
// DefaultStreamCapacity; policy defaults to OverflowDropOldest.
func (b *Bus) SubscribeStream(filter Filter, capacity int, policy OverflowPolicy) (*Stream, string) {
	if capacity <= 0 {
		capacity = DefaultStreamCapacity
	}
	if policy == "" {
		policy = OverflowDropOldest
	}
	ch := make(chan event.Event, capacity)
	s := &Stream{C: ch, c: ch, policy: policy}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subs[id] = &subscription{id: id, filter: filter, delivery: DeliveryStream, stream: s, active: true}
	b.order = append(b.order, id)
	return s, id
}

// Unsubscribe removes a subscription. Idempotent: unsubscribing an
// unknown or already-removed id is a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	sub.active = false
	delete(b.subs, id)
	if sub.delivery == DeliveryStream {
		close(sub.stream.c)
	}
}

// HasSubscribers reports whether at least one active subscription's
// filter would match an event of the given type. Used by the Universal
// Processor to detect orphaned events when combined with the driver
// registry's capability check.
func (b *Bus) HasSubscribers(eventType string) bool {
	probe := event.Event{Type: eventType}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.active && !sub.tap && sub.filter.matches(probe) {
			return true
		}
	}
	return false
}

// GetHistory returns the most recent events matching filter (nil
// matches everything), newest last, capped at limit (0 means
// unlimited, within the ring buffer's own cap).
func (b *Bus) GetHistory(filter *Filter, limit int) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []event.Event
	for _, e := range b.history {
		if filter != nil && !filter.matches(e) {
			continue
		}
		matched = append(matched, e)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
