package pairing

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestHandleEvent_IssuesSignedTokenAndQRCode(t *testing.T) {
	d := New([]byte("top-secret"), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = fixedClock(now)

	e, _ := event.New("driver-registry", "driver.pairing.request", "u1")
	e.Metadata["instance_id"] = "inst-42"

	out, err := d.HandleEvent(context.Background(), e)
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(out) != 1 || out[0].Type != "driver.pairing.issued" {
		t.Fatalf("out = %+v", out)
	}

	token, _ := out[0].Metadata["token"].(string)
	if token == "" {
		t.Fatal("expected a non-empty token")
	}
	png, _ := out[0].Metadata["qrcode_png_base64"].(string)
	if _, err := base64.StdEncoding.DecodeString(png); err != nil {
		t.Errorf("qrcode_png_base64 does not decode: %v", err)
	}

	gotID, err := d.Verify(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotID != "inst-42" {
		t.Errorf("Verify instance id = %q, want inst-42", gotID)
	}
}

func TestHandleEvent_MissingInstanceIDErrors(t *testing.T) {
	d := New([]byte("top-secret"), nil)
	e, _ := event.New("driver-registry", "driver.pairing.request", "u1")
	if _, err := d.HandleEvent(context.Background(), e); err == nil {
		t.Error("expected an error for a missing instance_id")
	}
}

func TestHandleEvent_IgnoresOtherEvents(t *testing.T) {
	d := New([]byte("top-secret"), nil)
	e, _ := event.New("src", "something.else", "u1")
	out, err := d.HandleEvent(context.Background(), e)
	if err != nil || out != nil {
		t.Errorf("HandleEvent(non-request) = %v, %v; want nil, nil", out, err)
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	d := New([]byte("top-secret"), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = fixedClock(now)

	e, _ := event.New("driver-registry", "driver.pairing.request", "u1")
	e.Metadata["instance_id"] = "inst-1"
	out, _ := d.HandleEvent(context.Background(), e)
	token := out[0].Metadata["token"].(string)

	if _, err := d.Verify(token, now.Add(TokenTTL+time.Minute)); err == nil {
		t.Error("expected an error for a token presented after its TTL")
	}
}

func TestVerify_RejectsTamperedToken(t *testing.T) {
	d := New([]byte("top-secret"), nil)
	e, _ := event.New("driver-registry", "driver.pairing.request", "u1")
	e.Metadata["instance_id"] = "inst-1"
	out, _ := d.HandleEvent(context.Background(), e)
	token := out[0].Metadata["token"].(string) + "x"

	if _, err := d.Verify(token, time.Now()); err == nil {
		t.Error("expected an error for a tampered token")
	}
}

func TestInitialize_RequiresSecret(t *testing.T) {
	d := New(nil, nil)
	if err := d.Initialize(context.Background(), nil); err == nil {
		t.Error("expected Initialize to reject an empty secret")
	}
}
