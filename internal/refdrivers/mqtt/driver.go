// Package mqtt is a reference IO driver bridging MQTT topics to bus
// events: subscribing to a topic filter emits bus events, and outbound
// mqtt.publish events are published back to the broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
)

// ManifestID is this driver's registry id.
const ManifestID = "refdrivers.mqtt"

// Manifest describes this driver for registration.
var Manifest = driver.Manifest{
	ID:           ManifestID,
	Name:         "MQTT Bridge",
	Version:      "1.0.0",
	DriverType:   driver.TypeIO,
	Capabilities: []string{"mqtt.publish"},
	Enabled:      true,
}

// Publisher is the slice of *paho.Client (or autopaho's
// ConnectionManager) behavior this driver depends on, grounded on
// internal/mqtt/publisher.go's cm.Publish calls.
type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Driver publishes mqtt.publish events to a broker and, for every
// inbound broker message on a subscribed topic, emits an mqtt.message
// bus event carrying the topic and raw payload.
type Driver struct {
	client Publisher
	logger *slog.Logger
	emit   func(event.Event)
}

// New constructs a Driver over an already-connected Publisher. emit is
// called for every inbound broker message translated into a bus event;
// wiring it to bus.Emit is the runtime's job, not this driver's, so
// the driver stays ignorant of the bus package.
func New(client Publisher, logger *slog.Logger, emit func(event.Event)) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{client: client, logger: logger, emit: emit}
}

// Initialize implements driver.Driver.
func (d *Driver) Initialize(context.Context, map[string]any) error {
	if d.client == nil {
		return fmt.Errorf("refdrivers/mqtt: no connected client configured")
	}
	return nil
}

// HandleEvent implements driver.Driver: mqtt.publish publishes the
// event metadata's topic/payload to the broker.
func (d *Driver) HandleEvent(ctx context.Context, e event.Event) ([]event.Event, error) {
	if e.Type != "mqtt.publish" {
		return nil, nil
	}
	topic, _ := e.Metadata["topic"].(string)
	if topic == "" {
		return nil, fmt.Errorf("refdrivers/mqtt: mqtt.publish missing topic")
	}
	payload, _ := e.Metadata["payload"].(string)
	qos, _ := e.Metadata["qos"].(float64)

	_, err := d.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: []byte(payload),
		QoS:     byte(qos),
	})
	if err != nil {
		return nil, fmt.Errorf("refdrivers/mqtt: publish %q: %w", topic, err)
	}
	return nil, nil
}

// OnMessage is registered with the broker connection (via
// autopaho.ConnectionManager.AddOnPublishReceived in production,
// mirroring internal/mqtt/publisher.go) and translates every inbound
// message into an mqtt.message bus event.
func (d *Driver) OnMessage(topic string, payload []byte) {
	if d.emit == nil {
		return
	}
	e, err := event.New("refdrivers.mqtt", "mqtt.message", "system")
	if err != nil {
		d.logger.Error("refdrivers/mqtt: failed to build event for inbound message", "topic", topic, "error", err)
		return
	}
	e.Metadata["topic"] = topic
	e.Metadata["payload"] = string(payload)
	d.emit(e)
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(context.Context) error { return nil }
