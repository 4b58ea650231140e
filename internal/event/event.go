// Package event defines the typed envelope that flows through the bus,
// the driver registry, and every other core component. Events are
// immutable once emitted: callers build one with New (or one of the
// subtype constructors in subtypes.go), hand it to the bus, and never
// mutate it again.
//
// Subtype payloads (EmailData, CalendarData, ...) are not separate Go
// types embedded in the envelope — they live inside Metadata, the way
// the wire envelope in the external interface only ever has one
// data-carrying field. This keeps ToMap/FromMap and JSON round-tripping
// exact without a discriminated-union encoding scheme.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MaxHistoryDepth bounds how many ancestor snapshots an event carries.
// Unbounded history would let a long causal chain serialize its entire
// ancestry recursively; the cap keeps chains flat and bounded.
const MaxHistoryDepth = 16

// Category classifies where an event originated / what it's for.
type Category string

const (
	CategoryUser     Category = "USER"
	CategorySystem   Category = "SYSTEM"
	CategoryOutput   Category = "OUTPUT"
	CategoryInternal Category = "INTERNAL"
)

// ValidationError reports a structured construction failure, naming the
// offending field so callers (and the Universal Processor, which turns
// these into "error" events) don't have to parse an error string.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event: field %q: %s", e.Field, e.Reason)
}

// Event is the immutable record that flows through the bus.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	Type          string         `json:"type"`
	UserID        string         `json:"userID"`
	Category      Category       `json:"category,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	History       []Event        `json:"history,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New constructs a base event. ID is left empty; the bus assigns one on
// Emit if the caller didn't set one explicitly. Category defaults to
// CategoryUser, matching events produced by external producers.
func New(source, typ, userID string) (Event, error) {
	if source == "" {
		return Event{}, &ValidationError{"source", "must not be empty"}
	}
	if typ == "" {
		return Event{}, &ValidationError{"type", "must not be empty"}
	}
	if userID == "" {
		return Event{}, &ValidationError{"user_id", "must not be empty"}
	}
	return Event{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Type:      typ,
		UserID:    userID,
		Category:  CategoryUser,
		Metadata:  make(map[string]any),
	}, nil
}

// WithHistory returns a copy of e with prior appended to its history,
// trimmed to MaxHistoryDepth. prior's own history is dropped rather
// than nested, so the chain is a flat list of ancestors rather than a
// tree of recursively-serialized snapshots.
func (e Event) WithHistory(prior Event) Event {
	prior.History = nil
	hist := append(append([]Event{}, e.History...), prior)
	if len(hist) > MaxHistoryDepth {
		hist = hist[len(hist)-MaxHistoryDepth:]
	}
	e.History = hist
	return e
}

// Validate re-checks the required invariants of a constructed event.
// Exported so the bus and processor can validate events built outside
// the constructors (e.g. decoded from JSON).
func (e Event) Validate() error {
	if e.ID == "" {
		// ID is allowed to be empty prior to emit; the bus assigns one.
	}
	if e.Source == "" {
		return &ValidationError{"source", "must not be empty"}
	}
	if e.Type == "" {
		return &ValidationError{"type", "must not be empty"}
	}
	if e.UserID == "" {
		return &ValidationError{"user_id", "must not be empty"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{"timestamp", "must be a parseable time"}
	}
	return nil
}

// ToMap returns a plain map[string]any suitable for on-wire JSON
// (field name "userID" on the wire, "user_id" in memory).
func (e Event) ToMap() map[string]any {
	m := map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"source":    e.Source,
		"type":      e.Type,
		"userID":    e.UserID,
	}
	if e.Category != "" {
		m["category"] = string(e.Category)
	}
	if len(e.Metadata) > 0 {
		m["metadata"] = e.Metadata
	}
	if e.CorrelationID != "" {
		m["correlation_id"] = e.CorrelationID
	}
	if len(e.History) > 0 {
		hist := make([]any, len(e.History))
		for i, h := range e.History {
			hist[i] = h.ToMap()
		}
		m["history"] = hist
	}
	return m
}

// FromMap reconstructs an Event from a decoded wire envelope, returning
// a *ValidationError naming the offending field on failure.
func FromMap(m map[string]any) (Event, error) {
	var e Event

	id, _ := m["id"].(string)
	e.ID = id

	ts, ok := m["timestamp"]
	if !ok {
		return Event{}, &ValidationError{"timestamp", "missing"}
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return Event{}, &ValidationError{"timestamp", err.Error()}
	}
	e.Timestamp = t

	source, _ := m["source"].(string)
	if source == "" {
		return Event{}, &ValidationError{"source", "must not be empty"}
	}
	e.Source = source

	typ, _ := m["type"].(string)
	if typ == "" {
		return Event{}, &ValidationError{"type", "must not be empty"}
	}
	e.Type = typ

	userID, ok := m["userID"].(string)
	if !ok || userID == "" {
		return Event{}, &ValidationError{"user_id", "must not be empty"}
	}
	e.UserID = userID

	if cat, ok := m["category"].(string); ok {
		e.Category = Category(cat)
	}
	if corr, ok := m["correlation_id"].(string); ok {
		e.CorrelationID = corr
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		e.Metadata = md
	}

	if hRaw, ok := m["history"]; ok {
		hList, ok := hRaw.([]any)
		if !ok {
			return Event{}, &ValidationError{"history", "must be a list"}
		}
		hist := make([]Event, 0, len(hList))
		for _, item := range hList {
			im, ok := item.(map[string]any)
			if !ok {
				return Event{}, &ValidationError{"history", "entries must be objects"}
			}
			he, err := FromMap(im)
			if err != nil {
				return Event{}, err
			}
			hist = append(hist, he)
		}
		e.History = hist
	}

	return e, nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC(), nil
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("not a parseable ISO8601 timestamp: %q", t)
	case float64:
		// Epoch seconds, JSON numbers decode as float64.
		return time.Unix(int64(t), 0).UTC(), nil
	case json.Number:
		secs, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("not a parseable epoch timestamp: %q", t)
		}
		return time.Unix(secs, 0).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// MarshalJSON round-trips through ToMap so wire output always matches
// the documented envelope shape regardless of how Event's Go fields are
// named.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalJSON round-trips through FromMap.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return err
	}
	decoded, err := FromMap(m)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}
