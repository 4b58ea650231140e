// Package driverwire builds reference driver instances from
// config.DriverConfig entries and registers them into a
// runtime.Runtime. cmd/aiosd calls this once at startup; cmd/aiosctl's
// driver subcommands call it against an ephemeral runtime so operator
// commands see the same drivers a running daemon would.
package driverwire

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/aios-runtime/internal/config"
	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
	"github.com/nugget/aios-runtime/internal/forge"
	refcalendar "github.com/nugget/aios-runtime/internal/refdrivers/calendar"
	refemail "github.com/nugget/aios-runtime/internal/refdrivers/email"
	refmqtt "github.com/nugget/aios-runtime/internal/refdrivers/mqtt"
	refpairing "github.com/nugget/aios-runtime/internal/refdrivers/pairing"
	refworker "github.com/nugget/aios-runtime/internal/refdrivers/worker"
	"github.com/nugget/aios-runtime/internal/runtime"
)

// RegisterConfigured wires a reference driver implementation for each
// entry in cfg.Drivers that names one of the bundled refdrivers
// packages and carries enough configuration to construct its real
// client. A driver named but missing required configuration is logged
// and skipped rather than aborting startup, so one misconfigured
// integration never takes the daemon down with it.
func RegisterConfigured(ctx context.Context, rt *runtime.Runtime, cfg *config.Config, logger *slog.Logger) {
	for name, dc := range cfg.Drivers {
		if !dc.Enabled {
			continue
		}
		var err error
		switch name {
		case "pairing":
			err = registerPairing(rt, dc, logger)
		case "worker":
			err = registerWorker(ctx, rt, dc, logger)
		case "email":
			err = registerEmail(rt, dc, logger)
		case "calendar":
			err = registerCalendar(rt, dc, logger)
		case "mqtt":
			err = registerMQTT(ctx, rt, dc, logger)
		default:
			logger.Warn("driverwire: unknown driver name in config, skipping", "driver", name)
			continue
		}
		if err != nil {
			logger.Error("driverwire: failed to wire driver, skipping", "driver", name, "error", err)
		}
	}
}

func registerPairing(rt *runtime.Runtime, dc config.DriverConfig, logger *slog.Logger) error {
	secret, _ := dc.Config["secret"].(string)
	if secret == "" {
		return fmt.Errorf("pairing driver requires a non-empty config.secret")
	}
	d := refpairing.New([]byte(secret), logger)
	return rt.RegisterDriver(refpairing.Manifest, func() driver.Driver { return d }, dc.Config)
}

func registerWorker(ctx context.Context, rt *runtime.Runtime, dc config.DriverConfig, logger *slog.Logger) error {
	token, _ := dc.Config["github_token"].(string)
	if token == "" {
		return fmt.Errorf("worker driver requires config.github_token")
	}
	fp, err := forge.NewGitHub(http.DefaultClient, token, "", logger)
	if err != nil {
		return fmt.Errorf("construct GitHub forge client: %w", err)
	}
	d := refworker.New(fp, logger)
	return rt.RegisterDriver(refworker.Manifest, func() driver.Driver { return d }, dc.Config)
}

func registerEmail(rt *runtime.Runtime, dc config.DriverConfig, logger *slog.Logger) error {
	rawAccounts, ok := dc.Config["accounts"].([]any)
	if !ok || len(rawAccounts) == 0 {
		return fmt.Errorf("email driver requires config.accounts")
	}

	var emailCfg refemail.Config
	emailCfg.BccOwner, _ = dc.Config["bcc_owner"].(string)
	for _, raw := range rawAccounts {
		acc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		account := refemail.AccountConfig{
			IMAP: endpointFrom(acc, "imap"),
			SMTP: endpointFrom(acc, "smtp"),
		}
		account.Name, _ = acc["name"].(string)
		account.From, _ = acc["from"].(string)
		account.SentFolder, _ = acc["sent_folder"].(string)
		emailCfg.Accounts = append(emailCfg.Accounts, account)
	}

	d, err := refemail.NewFromConfig(emailCfg, logger)
	if err != nil {
		return fmt.Errorf("invalid email driver config: %w", err)
	}
	return rt.RegisterDriver(refemail.Manifest, func() driver.Driver { return d }, dc.Config)
}

// endpointFrom decodes one of an account's nested server blocks
// ("imap"/"smtp") into an Endpoint; a missing block yields the zero
// value.
func endpointFrom(acc map[string]any, key string) refemail.Endpoint {
	var ep refemail.Endpoint
	raw, ok := acc[key].(map[string]any)
	if !ok {
		return ep
	}
	ep.Host, _ = raw["host"].(string)
	ep.Port, _ = raw["port"].(int)
	ep.Username, _ = raw["username"].(string)
	ep.Password, _ = raw["password"].(string)
	return ep
}

func registerCalendar(rt *runtime.Runtime, dc config.DriverConfig, logger *slog.Logger) error {
	endpoint, _ := dc.Config["endpoint"].(string)
	calendarPath, _ := dc.Config["calendar_path"].(string)
	if endpoint == "" || calendarPath == "" {
		return fmt.Errorf("calendar driver requires config.endpoint and config.calendar_path")
	}
	username, _ := dc.Config["username"].(string)
	password, _ := dc.Config["password"].(string)
	provider, _ := dc.Config["provider"].(string)
	if provider == "" {
		provider = "caldav"
	}

	source, err := refcalendar.NewDAVSource(endpoint, username, password, calendarPath, logger)
	if err != nil {
		return fmt.Errorf("construct caldav source: %w", err)
	}
	d := refcalendar.New(source, provider, logger)
	return rt.RegisterDriver(refcalendar.Manifest, func() driver.Driver { return d }, dc.Config)
}

func registerMQTT(ctx context.Context, rt *runtime.Runtime, dc config.DriverConfig, logger *slog.Logger) error {
	broker, _ := dc.Config["broker"].(string)
	if broker == "" {
		return fmt.Errorf("mqtt driver requires config.broker")
	}
	brokerURL, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	username, _ := dc.Config["username"].(string)
	password, _ := dc.Config["password"].(string)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: username,
		ConnectPassword: []byte(password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt connected to broker", "broker", broker)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "aiosd",
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	d := refmqtt.New(cm, logger, func(e event.Event) {
		if _, err := rt.Bus.Emit(e); err != nil {
			logger.Error("mqtt: failed to emit translated event", "error", err)
		}
	})
	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		d.OnMessage(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})
	return rt.RegisterDriver(refmqtt.Manifest, func() driver.Driver { return d }, dc.Config)
}
