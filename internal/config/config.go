// Package config handles aios-runtime daemon configuration: locating,
// loading, defaulting, and validating the YAML file that configures
// the bus, scheduler, security manager, debug bridge, and reference
// drivers.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LevelTrace sits below slog.LevelDebug for very chatty wire-level
// detail (every bus drop, every scheduler tick) that would flood
// debug output.
const LevelTrace = slog.Level(-8)

// logLevels maps the log_level config values onto slog levels.
var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel resolves a log_level config value (case-insensitive)
// to its slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
	return level, nil
}

// ReplaceLogLevelNames is a slog ReplaceAttr hook that labels the
// custom trace level TRACE instead of slog's DEBUG-4.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// searchPathsFunc backs DefaultSearchPaths and is overridden in tests
// so FindConfig's search-path fallback doesn't touch real files on the
// developer's machine.
var searchPathsFunc = defaultSearchPaths

// DefaultSearchPaths returns the config file search order: an explicit
// path (checked by the caller before this is consulted), then
// ./config.yaml, ~/.config/aios/config.yaml, /config/config.yaml
// (container convention), /etc/aios/config.yaml.
func DefaultSearchPaths() []string { return searchPathsFunc() }

func defaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aios", "config.yaml"))
	}
	paths = append(paths, "/config/config.yaml", "/etc/aios/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds the runtime's full configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	Bus       BusConfig               `yaml:"bus"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
	Security  SecurityConfig          `yaml:"security"`
	Docstore  DocstoreConfig          `yaml:"docstore"`
	WSBridge  WSBridgeConfig          `yaml:"ws_bridge"`
	Drivers   map[string]DriverConfig `yaml:"drivers"`
}

// BusConfig tunes the event bus's ring buffer and default stream bound.
type BusConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
	StreamCapacity  int `yaml:"stream_capacity"`
}

// SchedulerConfig tunes the scheduler's persistence and tick periods.
type SchedulerConfig struct {
	DBPath         string `yaml:"db_path"`
	IntervalPeriod string `yaml:"interval_period"` // Go duration, e.g. "30s"
	CronPeriod     string `yaml:"cron_period"`
}

// SecurityConfig tunes the security manager's policy thresholds and
// audit/cost persistence.
type SecurityConfig struct {
	AuditCap         int     `yaml:"audit_cap"`
	CostLedgerPath   string  `yaml:"cost_ledger_path"`
	CostThresholdUSD float64 `yaml:"cost_threshold_usd"`
	DailyEventLimit  int     `yaml:"daily_event_limit"`
}

// DocstoreConfig configures the default local document-store backend.
type DocstoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// WSBridgeConfig configures the optional debug websocket bus tail.
type WSBridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// DriverConfig is one reference driver's enable flag and free-form
// config, passed through to driver.Registry.RegisterDriver.
type DriverConfig struct {
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, every field is usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${AIOS_COST_LEDGER_PATH}) as a
	// convenience for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Bus.HistoryCapacity == 0 {
		c.Bus.HistoryCapacity = 10000
	}
	if c.Bus.StreamCapacity == 0 {
		c.Bus.StreamCapacity = 1024
	}
	if c.Scheduler.DBPath == "" {
		c.Scheduler.DBPath = filepath.Join(c.DataDir, "scheduler.db")
	}
	if c.Scheduler.IntervalPeriod == "" {
		c.Scheduler.IntervalPeriod = "30s"
	}
	if c.Scheduler.CronPeriod == "" {
		c.Scheduler.CronPeriod = "60s"
	}
	if c.Security.AuditCap == 0 {
		c.Security.AuditCap = 10000
	}
	if c.Security.CostLedgerPath == "" {
		c.Security.CostLedgerPath = filepath.Join(c.DataDir, "cost_ledger.db")
	}
	if c.Security.CostThresholdUSD == 0 {
		c.Security.CostThresholdUSD = 100.0
	}
	if c.Security.DailyEventLimit == 0 {
		c.Security.DailyEventLimit = 1000
	}
	if c.Docstore.DBPath == "" {
		c.Docstore.DBPath = filepath.Join(c.DataDir, "docstore.db")
	}
	if c.WSBridge.Enabled && c.WSBridge.Port == 0 {
		c.WSBridge.Port = 8090
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q must be \"text\" or \"json\"", c.LogFormat)
	}
	if c.WSBridge.Enabled && (c.WSBridge.Port < 1 || c.WSBridge.Port > 65535) {
		return fmt.Errorf("ws_bridge.port %d out of range (1-65535)", c.WSBridge.Port)
	}
	if c.Security.DailyEventLimit < 0 {
		return fmt.Errorf("security.daily_event_limit must not be negative")
	}
	if c.Security.CostThresholdUSD < 0 {
		return fmt.Errorf("security.cost_threshold_usd must not be negative")
	}
	return nil
}

// Default returns a default configuration suitable for local, single-
// binary development. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
