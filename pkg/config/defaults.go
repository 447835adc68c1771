package config

import (
	"strings"
	"time"

	"github.com/telique/sbcfleet/pkg/fleet/store"
	"github.com/telique/sbcfleet/pkg/orchestrator"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyDatabaseDefaults(&cfg.Database)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyFleetDefaults(&cfg.Fleet)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults sets fleet database defaults.
func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyServerDefaults sets admin/health HTTP server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8085
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Fan-out endpoints wait for every appliance before responding.
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyFleetDefaults sets appliance driver and orchestrator defaults.
// The defaults live next to the code that consumes them; this just copies
// them in so a saved config file is explicit about what it runs with.
func applyFleetDefaults(cfg *FleetConfig) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = prosbc.DefaultSessionTTL
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = prosbc.DefaultProbeInterval
	}
	if cfg.ConfigCacheTTL == 0 {
		cfg.ConfigCacheTTL = prosbc.DefaultConfigCacheTTL
	}
	if cfg.ListCacheTTL == 0 {
		cfg.ListCacheTTL = prosbc.DefaultListCacheTTL
	}
	if cfg.RegistryTTL == 0 {
		cfg.RegistryTTL = prosbc.DefaultRegistryTTL
	}
	if cfg.ProbeMax == 0 {
		cfg.ProbeMax = prosbc.DefaultProbeMax
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = prosbc.DefaultOpTimeout
	}
	if cfg.FanOutWorkers == 0 {
		cfg.FanOutWorkers = orchestrator.DefaultFanOutWorkers
	}
	if cfg.GlobalInFlight == 0 {
		cfg.GlobalInFlight = orchestrator.DefaultGlobalInFlight
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = time.Hour
	}
	if cfg.RemovalCheckInterval == 0 {
		cfg.RemovalCheckInterval = time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
