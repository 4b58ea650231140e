// Package wsbridge is an optional debug surface: it subscribes to the
// bus and streams every matching event to connected WebSocket clients
// as JSON, so an operator can tail live traffic without wiring a
// purpose-built dashboard.
// It never feeds back into the bus — clients are read-only observers.
package wsbridge

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/event"
)

// Bridge upgrades HTTP connections to WebSockets and fans out bus
// events matching Filter to every connected client.
type Bridge struct {
	logger *slog.Logger
	bus    *bus.Bus
	filter bus.Filter

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan event.Event
}

// New constructs a Bridge that tails b for events matching filter. A
// nil logger is replaced with slog.Default().
func New(logger *slog.Logger, b *bus.Bus, filter bus.Filter) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	br := &Bridge{
		logger:  logger,
		bus:     b,
		filter:  filter,
		clients: make(map[*websocket.Conn]chan event.Event),
		upgrader: websocket.Upgrader{
			// This is a debug surface meant to run behind an operator's
			// own reverse proxy/auth, not a public endpoint.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	b.SubscribeTap(filter, br.broadcast)
	return br
}

// broadcast fans e out to every connected client's send queue,
// dropping the event for clients that are falling behind rather than
// blocking the bus's callback dispatch.
func (br *Bridge) broadcast(e event.Event) {
	br.mu.Lock()
	defer br.mu.Unlock()
	for conn, ch := range br.clients {
		select {
		case ch <- e:
		default:
			br.logger.Warn("wsbridge: dropping event for slow client", "event_type", e.Type, "remote", conn.RemoteAddr())
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events to
// it until the connection closes.
func (br *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := br.upgrader.Upgrade(w, r, nil)
	if err != nil {
		br.logger.Error("wsbridge: upgrade failed", "error", err)
		return
	}

	ch := make(chan event.Event, 256)
	br.mu.Lock()
	br.clients[conn] = ch
	br.mu.Unlock()

	br.logger.Info("wsbridge: client connected", "remote", conn.RemoteAddr())

	defer func() {
		br.mu.Lock()
		delete(br.clients, conn)
		br.mu.Unlock()
		conn.Close()
		br.logger.Info("wsbridge: client disconnected", "remote", conn.RemoteAddr())
	}()

	// Drain (and discard) whatever the client sends, so we notice a
	// closed/broken connection promptly; this endpoint is write-only
	// from the server's side.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-ch:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

// RegisterRoutes mounts br at path on mux.
func (br *Bridge) RegisterRoutes(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, br.ServeHTTP)
}
