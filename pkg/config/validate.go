package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural and semantic errors.
//
// Structural checks come from the `validate` struct tags (required fields,
// enum membership, port ranges). Semantic checks that span fields live here.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}

	// The probe interval has to be shorter than the session TTL, otherwise
	// every cached cookie expires before it is ever probed.
	if cfg.Fleet.ProbeInterval >= cfg.Fleet.SessionTTL {
		return fmt.Errorf("fleet.probe_interval (%s) must be shorter than fleet.session_ttl (%s)",
			cfg.Fleet.ProbeInterval, cfg.Fleet.SessionTTL)
	}

	// Per-fan-out workers above the global cap would never be reachable.
	if cfg.Fleet.FanOutWorkers > cfg.Fleet.GlobalInFlight {
		return fmt.Errorf("fleet.fan_out_workers (%d) must not exceed fleet.global_in_flight (%d)",
			cfg.Fleet.FanOutWorkers, cfg.Fleet.GlobalInFlight)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics.port and server.port must differ (both %d)", cfg.Server.Port)
	}

	return nil
}
