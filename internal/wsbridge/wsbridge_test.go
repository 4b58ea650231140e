package wsbridge

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/event"
)

func TestBridge_StreamsMatchingEventsToClient(t *testing.T) {
	b := bus.New(nil)
	br := New(nil, b, bus.Filter{EventTypes: []string{"email.received"}})

	srv := httptest.NewServer(br)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the connection
	// before emitting, since registration happens inside ServeHTTP.
	time.Sleep(50 * time.Millisecond)

	e, _ := event.New("gmail", "email.received", "u1")
	if _, err := b.Emit(e); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got event.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != "email.received" || got.Source != "gmail" {
		t.Errorf("got = %+v, want type email.received from gmail", got)
	}
}

func TestBridge_FiltersNonMatchingEvents(t *testing.T) {
	other := bus.New(nil)
	br := New(nil, other, bus.Filter{EventTypes: []string{"email.received"}})
	srv := httptest.NewServer(br)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	e, _ := event.New("src", "calendar.created", "u1")
	if _, err := other.Emit(e); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	e2, _ := event.New("gmail", "email.received", "u1")
	if _, err := other.Emit(e2); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got event.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != "email.received" {
		t.Errorf("expected the filtered-out calendar.created event never to arrive, got %q", got.Type)
	}
}
