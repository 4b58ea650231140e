// Package calendar is a reference IO driver bridging a CalDAV
// calendar to calendar events, using go-webdav's caldav client to
// fetch events and go-vcard to resolve attendee display names from
// vCard attachments.
package calendar

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
)

// ManifestID is this driver's registry id.
const ManifestID = "refdrivers.calendar"

// Manifest describes this driver for registration.
var Manifest = driver.Manifest{
	ID:           ManifestID,
	Name:         "CalDAV Calendar",
	Version:      "1.0.0",
	DriverType:   driver.TypeIO,
	Capabilities: []string{"calendar.sync"},
	Enabled:      true,
}

// CalendarObject is the subset of a CalDAV event this driver needs,
// narrowed from caldav.CalendarObject/ical.Event so the sync logic
// below can be tested without a live CalDAV server.
type CalendarObject struct {
	UID            string
	Summary        string
	Start          time.Time
	End            time.Time
	Location       string
	AttendeeVCards [][]byte // raw vCard bodies, one per attendee, when the server attaches them
}

// Source fetches calendar objects, implemented in production by a
// caldav.Client wrapper and in tests by a fake.
type Source interface {
	QueryEvents(ctx context.Context, since time.Time) ([]CalendarObject, error)
}

// Driver translates CalDAV events into CalendarEvents on calendar.sync.
type Driver struct {
	source   Source
	provider string
	logger   *slog.Logger
}

// New constructs a Driver over an already-configured Source. provider
// names the calendar backend for CalendarEvent.provider (e.g. "caldav",
// "nextcloud").
func New(source Source, provider string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{source: source, provider: provider, logger: logger}
}

// Initialize implements driver.Driver.
func (d *Driver) Initialize(context.Context, map[string]any) error {
	if d.source == nil {
		return fmt.Errorf("refdrivers/calendar: no calendar source configured")
	}
	return nil
}

// HandleEvent implements driver.Driver: calendar.sync queries events
// since the time carried in metadata["since"] (RFC3339; the zero time
// if absent) and emits one CalendarEvent per object found.
func (d *Driver) HandleEvent(ctx context.Context, e event.Event) ([]event.Event, error) {
	if e.Type != "calendar.sync" {
		return nil, nil
	}

	since := time.Time{}
	if raw, ok := e.Metadata["since"].(string); ok && raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err == nil {
			since = parsed
		}
	}

	objs, err := d.source.QueryEvents(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("refdrivers/calendar: query: %w", err)
	}

	var out []event.Event
	for _, o := range objs {
		data := map[string]any{
			"summary":   o.Summary,
			"start":     o.Start.Format(time.RFC3339),
			"end":       o.End.Format(time.RFC3339),
			"location":  o.Location,
			"uid":       o.UID,
			"attendees": attendeeNames(d.logger, o.AttendeeVCards),
		}
		evt, err := event.NewCalendarEvent("refdrivers.calendar", "calendar.event", e.UserID, "synced", d.provider, data)
		if err != nil {
			d.logger.Warn("refdrivers/calendar: skipping malformed event", "uid", o.UID, "error", err)
			continue
		}
		out = append(out, evt.WithHistory(e))
	}
	return out, nil
}

// attendeeNames decodes each raw vCard and returns its formatted name
// (FN), falling back to silently skipping cards that fail to parse —
// a malformed attendee card should not drop the whole calendar event.
func attendeeNames(logger *slog.Logger, cards [][]byte) []string {
	var names []string
	for _, raw := range cards {
		dec := vcard.NewDecoder(bytes.NewReader(raw))
		card, err := dec.Decode()
		if err != nil {
			logger.Debug("refdrivers/calendar: failed to decode attendee vCard", "error", err)
			continue
		}
		if fn := card.PreferredValue(vcard.FieldFormattedName); fn != "" {
			names = append(names, fn)
		}
	}
	return names
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(context.Context) error { return nil }
