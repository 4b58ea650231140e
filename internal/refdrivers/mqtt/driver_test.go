package mqtt

import (
	"context"
	"testing"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/aios-runtime/internal/event"
)

type fakePublisher struct {
	published []*paho.Publish
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, p)
	return &paho.PublishResponse{}, nil
}

func TestHandleEvent_PublishSendsTopicAndPayload(t *testing.T) {
	fp := &fakePublisher{}
	d := New(fp, nil, nil)

	e, _ := event.New("instruction", "mqtt.publish", "u1")
	e.Metadata["topic"] = "home/kitchen/light"
	e.Metadata["payload"] = "ON"

	if _, err := d.HandleEvent(context.Background(), e); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(fp.published) != 1 {
		t.Fatalf("len(published) = %d, want 1", len(fp.published))
	}
	if fp.published[0].Topic != "home/kitchen/light" || string(fp.published[0].Payload) != "ON" {
		t.Errorf("published = %+v", fp.published[0])
	}
}

func TestHandleEvent_PublishMissingTopicErrors(t *testing.T) {
	d := New(&fakePublisher{}, nil, nil)
	e, _ := event.New("instruction", "mqtt.publish", "u1")
	if _, err := d.HandleEvent(context.Background(), e); err == nil {
		t.Error("expected an error for a publish event with no topic")
	}
}

func TestHandleEvent_IgnoresNonPublishEvents(t *testing.T) {
	d := New(&fakePublisher{}, nil, nil)
	e, _ := event.New("src", "something.else", "u1")
	out, err := d.HandleEvent(context.Background(), e)
	if err != nil || out != nil {
		t.Errorf("HandleEvent(non-publish) = %v, %v; want nil, nil", out, err)
	}
}

func TestOnMessage_EmitsMQTTMessageEvent(t *testing.T) {
	var captured event.Event
	d := New(&fakePublisher{}, nil, func(e event.Event) { captured = e })

	d.OnMessage("home/kitchen/motion", []byte(`{"state":"detected"}`))

	if captured.Type != "mqtt.message" {
		t.Fatalf("captured.Type = %q, want mqtt.message", captured.Type)
	}
	if captured.Metadata["topic"] != "home/kitchen/motion" {
		t.Errorf("topic = %v", captured.Metadata["topic"])
	}
	if captured.Metadata["payload"] != `{"state":"detected"}` {
		t.Errorf("payload = %v", captured.Metadata["payload"])
	}
}

func TestOnMessage_NoEmitFuncIsANoop(t *testing.T) {
	d := New(&fakePublisher{}, nil, nil)
	d.OnMessage("topic", []byte("x")) // must not panic
}
