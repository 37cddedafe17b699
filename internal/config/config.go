// Package config manages the session daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables; the only CLI flag is the
// config file path itself (see cmd/sessiond).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete session daemon configuration.
type Config struct {
	Identity IdentityConfig `koanf:"identity"`
	Switch   SwitchConfig   `koanf:"switch"`
	Inside   InsideConfig   `koanf:"inside"`
	Events   EventsConfig   `koanf:"events"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Session  SessionConfig  `koanf:"session"`
}

// IdentityConfig locates this node's static Noise keypair on disk.
type IdentityConfig struct {
	// KeyFile is a path to a 32-byte raw X25519 private key. Generated on
	// first run if it does not exist.
	KeyFile string `koanf:"key_file"`
}

// SwitchConfig holds the switch-facing (downward) interface configuration.
type SwitchConfig struct {
	// Addr is the UNIX socket path the switch transport listens on.
	Addr string `koanf:"addr"`
}

// InsideConfig holds the inside-facing (upward) interface configuration.
type InsideConfig struct {
	// Addr is the UNIX socket path the inside transport listens on.
	Addr string `koanf:"addr"`
}

// EventsConfig holds the pathfinder event bus transport configuration.
type EventsConfig struct {
	// Addr is the UNIX socket path the event bus listens on.
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SessionConfig holds session manager tuning knobs (spec.md §6).
type SessionConfig struct {
	// MaxBufferedMessages bounds the buffered-message queue.
	MaxBufferedMessages int `koanf:"max_buffered_messages"`

	// MetricHalflifeMilliseconds is preserved from the original protocol's
	// configuration surface but currently has no code path reading it: path
	// metric computation is an explicit non-goal (spec.md §1, §9 open
	// question).
	MetricHalflifeMilliseconds uint32 `koanf:"metric_halflife_milliseconds"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			KeyFile: "/var/lib/sessiond/identity.key",
		},
		Switch: SwitchConfig{
			Addr: "/run/sessiond/switch.sock",
		},
		Inside: InsideConfig{
			Addr: "/run/sessiond/inside.sock",
		},
		Events: EventsConfig{
			Addr: "/run/sessiond/events.sock",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			MaxBufferedMessages:        256,
			MetricHalflifeMilliseconds: 0,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for session daemon
// configuration. Variables are named SESSIOND_<section>_<key>, e.g.
// SESSIOND_SWITCH_ADDR.
const envPrefix = "SESSIOND_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SESSIOND_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SESSIOND_SWITCH_ADDR -> switch.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"identity.key_file":                defaults.Identity.KeyFile,
		"switch.addr":                      defaults.Switch.Addr,
		"inside.addr":                      defaults.Inside.Addr,
		"events.addr":                      defaults.Events.Addr,
		"metrics.addr":                     defaults.Metrics.Addr,
		"metrics.path":                     defaults.Metrics.Path,
		"log.level":                        defaults.Log.Level,
		"log.format":                       defaults.Log.Format,
		"session.max_buffered_messages":    defaults.Session.MaxBufferedMessages,
		"session.metric_halflife_milliseconds": defaults.Session.MetricHalflifeMilliseconds,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyIdentityKeyFile indicates the identity key file path is empty.
	ErrEmptyIdentityKeyFile = errors.New("identity.key_file must not be empty")

	// ErrEmptySwitchAddr indicates the switch interface address is empty.
	ErrEmptySwitchAddr = errors.New("switch.addr must not be empty")

	// ErrEmptyInsideAddr indicates the inside interface address is empty.
	ErrEmptyInsideAddr = errors.New("inside.addr must not be empty")

	// ErrInvalidMaxBufferedMessages indicates a non-positive buffer bound.
	ErrInvalidMaxBufferedMessages = errors.New("session.max_buffered_messages must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Identity.KeyFile == "" {
		return ErrEmptyIdentityKeyFile
	}

	if cfg.Switch.Addr == "" {
		return ErrEmptySwitchAddr
	}

	if cfg.Inside.Addr == "" {
		return ErrEmptyInsideAddr
	}

	if cfg.Session.MaxBufferedMessages <= 0 {
		return ErrInvalidMaxBufferedMessages
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
