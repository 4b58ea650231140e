package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// DAVSource is the production Source: a caldav client querying one
// calendar collection for VEVENTs.
type DAVSource struct {
	client *caldav.Client
	path   string
	logger *slog.Logger
}

// NewDAVSource connects to a CalDAV endpoint with basic auth.
// calendarPath is the collection to query (e.g.
// "/calendars/user/personal/").
func NewDAVSource(endpoint, username, password, calendarPath string, logger *slog.Logger) (*DAVSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var httpc webdav.HTTPClient
	if username != "" {
		httpc = webdav.HTTPClientWithBasicAuth(nil, username, password)
	}
	client, err := caldav.NewClient(httpc, endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav client for %s: %w", endpoint, err)
	}
	return &DAVSource{client: client, path: calendarPath, logger: logger}, nil
}

// QueryEvents implements Source: it asks the server for VEVENTs
// starting at or after since and flattens each into a CalendarObject.
// A single object file can hold several VEVENTs (recurrence
// overrides); each becomes its own CalendarObject.
func (s *DAVSource) QueryEvents(ctx context.Context, since time.Time) ([]CalendarObject, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: since}},
		},
	}
	objs, err := s.client.QueryCalendar(ctx, s.path, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.path, err)
	}

	var out []CalendarObject
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			co, err := flattenEvent(ev)
			if err != nil {
				s.logger.Debug("refdrivers/calendar: skipping unreadable VEVENT", "path", obj.Path, "error", err)
				continue
			}
			out = append(out, co)
		}
	}
	return out, nil
}

// flattenEvent pulls the fields the driver emits out of one VEVENT.
func flattenEvent(ev ical.Event) (CalendarObject, error) {
	var co CalendarObject

	uid, err := ev.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return co, fmt.Errorf("missing UID: %w", err)
	}
	co.UID = uid
	co.Summary, _ = ev.Props.Text(ical.PropSummary)
	co.Location, _ = ev.Props.Text(ical.PropLocation)

	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return co, fmt.Errorf("DTSTART: %w", err)
	}
	co.Start = start
	if end, err := ev.DateTimeEnd(time.UTC); err == nil {
		co.End = end
	}
	return co, nil
}
