package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/nugget/aios-runtime/internal/event"
)

type fakeDriver struct {
	initErr     error
	handleErr   error
	handleCalls int
	output      []event.Event
	shutdownErr error
}

func (f *fakeDriver) Initialize(ctx context.Context, config map[string]any) error { return f.initErr }

func (f *fakeDriver) HandleEvent(ctx context.Context, e event.Event) ([]event.Event, error) {
	f.handleCalls++
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	return f.output, nil
}

func (f *fakeDriver) Shutdown(ctx context.Context) error { return f.shutdownErr }

func testManifest(id string, capabilities ...string) Manifest {
	return Manifest{ID: id, Name: id, Capabilities: capabilities}
}

func TestRegisterDriver_RejectsEmptyCapabilities(t *testing.T) {
	r := New(nil)
	err := r.RegisterDriver(Manifest{ID: "x"}, func() Driver { return &fakeDriver{} }, nil)
	if err == nil {
		t.Fatal("expected error for manifest with no capabilities")
	}
}

func TestRegisterDriver_RejectsDuplicateID(t *testing.T) {
	r := New(nil)
	m := testManifest("dup", "a.b")
	if err := r.RegisterDriver(m, func() Driver { return &fakeDriver{} }, nil); err != nil {
		t.Fatalf("first RegisterDriver: %v", err)
	}
	if err := r.RegisterDriver(m, func() Driver { return &fakeDriver{} }, nil); err == nil {
		t.Fatal("expected error registering duplicate id")
	}
}

func TestStartDriver_Success(t *testing.T) {
	r := New(nil)
	r.RegisterDriver(testManifest("d1", "email.received"), func() Driver { return &fakeDriver{} }, nil)

	if err := r.StartDriver(context.Background(), "d1"); err != nil {
		t.Fatalf("StartDriver: %v", err)
	}
	status, ok := r.Status("d1")
	if !ok || status != StatusRunning {
		t.Errorf("status = %v, ok=%v, want running", status, ok)
	}
}

func TestStartDriver_InitializeFailureMovesToError(t *testing.T) {
	r := New(nil)
	r.RegisterDriver(testManifest("d1", "email.received"), func() Driver {
		return &fakeDriver{initErr: errors.New("boom")}
	}, nil)

	if err := r.StartDriver(context.Background(), "d1"); err == nil {
		t.Fatal("expected initialize error to propagate")
	}
	status, ok := r.Status("d1")
	if !ok || status != StatusError {
		t.Errorf("status = %v, ok=%v, want error", status, ok)
	}
}

func TestRouteEvent_ExactCapabilityMatch(t *testing.T) {
	r := New(nil)
	out, _ := event.New("test", "email.sent", "alice")
	fd := &fakeDriver{output: []event.Event{out}}
	r.RegisterDriver(testManifest("d1", "email.received"), func() Driver { return fd }, nil)
	r.StartDriver(context.Background(), "d1")

	e, _ := event.New("test", "email.received", "alice")
	produced := r.RouteEvent(context.Background(), e)
	if len(produced) != 1 || fd.handleCalls != 1 {
		t.Errorf("produced = %v, handleCalls = %d, want 1 event and 1 call", produced, fd.handleCalls)
	}
}

func TestRouteEvent_WildcardCapabilityMatch(t *testing.T) {
	r := New(nil)
	fd := &fakeDriver{}
	r.RegisterDriver(testManifest("d1", "email.*"), func() Driver { return fd }, nil)
	r.StartDriver(context.Background(), "d1")

	e, _ := event.New("test", "email.received", "alice")
	r.RouteEvent(context.Background(), e)
	if fd.handleCalls != 1 {
		t.Errorf("handleCalls = %d, want 1 for wildcard match", fd.handleCalls)
	}

	other, _ := event.New("test", "calendar.created", "alice")
	r.RouteEvent(context.Background(), other)
	if fd.handleCalls != 1 {
		t.Errorf("handleCalls = %d, want still 1 (non-matching type)", fd.handleCalls)
	}
}

func TestRouteEvent_OrphanReturnsEmpty(t *testing.T) {
	r := New(nil)
	e, _ := event.New("test", "nobody.listens", "alice")
	produced := r.RouteEvent(context.Background(), e)
	if len(produced) != 0 {
		t.Errorf("produced = %v, want empty for orphan event", produced)
	}
	if r.HasMatchingDriver("nobody.listens") {
		t.Error("HasMatchingDriver should be false for an orphan type")
	}
}

func TestRouteEvent_FailureIsolation(t *testing.T) {
	r := New(nil)
	failing := &fakeDriver{handleErr: errors.New("d1 exploded")}
	ok2, _ := event.New("test", "emitted.by.d2", "alice")
	succeeding := &fakeDriver{output: []event.Event{ok2}}

	r.RegisterDriver(testManifest("d1", "x.y"), func() Driver { return failing }, nil)
	r.RegisterDriver(testManifest("d2", "x.y"), func() Driver { return succeeding }, nil)
	r.StartDriver(context.Background(), "d1")
	r.StartDriver(context.Background(), "d2")

	e, _ := event.New("test", "x.y", "alice")
	produced := r.RouteEvent(context.Background(), e)

	if len(produced) != 1 {
		t.Fatalf("produced = %v, want 1 event from the surviving driver", produced)
	}
	status, _ := r.Status("d1")
	if status != StatusError {
		t.Errorf("d1 status = %v, want error", status)
	}
	status2, _ := r.Status("d2")
	if status2 != StatusRunning {
		t.Errorf("d2 status = %v, want still running", status2)
	}
}

func TestStopDriver_RemovesInstance(t *testing.T) {
	r := New(nil)
	r.RegisterDriver(testManifest("d1", "x.y"), func() Driver { return &fakeDriver{} }, nil)
	r.StartDriver(context.Background(), "d1")

	if err := r.StopDriver(context.Background(), "d1"); err != nil {
		t.Fatalf("StopDriver: %v", err)
	}
	if _, ok := r.Status("d1"); ok {
		t.Error("status should report not-ok after stop")
	}
}

func TestRegisterDriver_AutoStartsWhenEnabled(t *testing.T) {
	r := New(nil)
	m := testManifest("d1", "x.y")
	m.Enabled = true
	if err := r.RegisterDriver(m, func() Driver { return &fakeDriver{} }, nil); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}
	status, ok := r.Status("d1")
	if !ok || status != StatusRunning {
		t.Errorf("status = %v, ok=%v, want running after auto-start", status, ok)
	}
}
