// Package pairing is a reference UI driver: when a new IO driver
// instance requests linking, it mints an HMAC-signed pairing token and
// renders it as a QR code event an operator's phone can scan.
package pairing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/hkdf"

	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
)

// ManifestID is this driver's registry id.
const ManifestID = "refdrivers.pairing"

// Manifest describes this driver for registration.
var Manifest = driver.Manifest{
	ID:           ManifestID,
	Name:         "Driver Pairing",
	Version:      "1.0.0",
	DriverType:   driver.TypeUI,
	Capabilities: []string{"driver.pairing.request"},
	Enabled:      true,
}

// TokenTTL bounds how long a minted pairing token is valid for; Verify
// rejects a token presented after this window.
const TokenTTL = 10 * time.Minute

// Driver mints and renders pairing tokens. key is the HMAC key shared
// with whatever verifies a presented token; it must not be empty.
type Driver struct {
	key    []byte
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Driver signing tokens with a 32-byte key derived
// from secret via HKDF-SHA256, so a short human-entered config secret
// is never used directly as the MAC key.
func New(secret []byte, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	var key []byte
	if len(secret) > 0 {
		key = make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("pairing-token-v1")), key); err != nil {
			key = nil
		}
	}
	return &Driver{key: key, logger: logger, now: time.Now}
}

// Initialize implements driver.Driver.
func (d *Driver) Initialize(context.Context, map[string]any) error {
	if len(d.key) == 0 {
		return fmt.Errorf("refdrivers/pairing: no signing secret configured")
	}
	return nil
}

// HandleEvent implements driver.Driver: driver.pairing.request mints a
// token for the requesting instance id and emits
// driver.pairing.issued carrying the token and a PNG-encoded QR code.
func (d *Driver) HandleEvent(_ context.Context, e event.Event) ([]event.Event, error) {
	if e.Type != "driver.pairing.request" {
		return nil, nil
	}
	instanceID, _ := e.Metadata["instance_id"].(string)
	if instanceID == "" {
		return nil, fmt.Errorf("refdrivers/pairing: driver.pairing.request missing instance_id")
	}

	expires := d.now().Add(TokenTTL)
	token := d.sign(instanceID, expires)

	png, err := qrcode.Encode(token, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("refdrivers/pairing: encode QR code: %w", err)
	}

	out, err := event.New("refdrivers.pairing", "driver.pairing.issued", e.UserID)
	if err != nil {
		return nil, err
	}
	out.Metadata["instance_id"] = instanceID
	out.Metadata["token"] = token
	out.Metadata["expires_at"] = expires.Format(time.RFC3339)
	out.Metadata["qrcode_png_base64"] = base64.StdEncoding.EncodeToString(png)
	return []event.Event{out.WithHistory(e)}, nil
}

// sign builds a pairing token as base64(instanceID|expiresUnix) plus
// an HMAC-SHA256 tag over that payload, so Verify can check it without
// a round trip to this driver.
func (d *Driver) sign(instanceID string, expires time.Time) string {
	payload := fmt.Sprintf("%s|%d", instanceID, expires.Unix())
	mac := hmac.New(sha256.New, d.key)
	mac.Write([]byte(payload))
	tag := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(tag)
}

// Verify checks a token minted by sign, returning the instance id it
// was issued for. It rejects tokens with a bad signature or an expired
// timestamp.
func (d *Driver) Verify(token string, at time.Time) (string, error) {
	payloadB64, tagB64, ok := strings.Cut(token, ".")
	if !ok {
		return "", fmt.Errorf("refdrivers/pairing: malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("refdrivers/pairing: malformed token payload")
	}
	tag, err := base64.RawURLEncoding.DecodeString(tagB64)
	if err != nil {
		return "", fmt.Errorf("refdrivers/pairing: malformed token signature")
	}

	mac := hmac.New(sha256.New, d.key)
	mac.Write(payload)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return "", fmt.Errorf("refdrivers/pairing: signature mismatch")
	}

	sep := strings.LastIndex(string(payload), "|")
	if sep < 0 {
		return "", fmt.Errorf("refdrivers/pairing: malformed token payload")
	}
	instanceID := string(payload[:sep])
	expiresUnix, err := strconv.ParseInt(string(payload[sep+1:]), 10, 64)
	if err != nil {
		return "", fmt.Errorf("refdrivers/pairing: malformed token payload")
	}
	if at.After(time.Unix(expiresUnix, 0)) {
		return "", fmt.Errorf("refdrivers/pairing: token expired")
	}
	return instanceID, nil
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(context.Context) error { return nil }
