package config

import (
	"os"

	"github.com/telique/sbcfleet/pkg/fleet/models"
	"github.com/telique/sbcfleet/pkg/orchestrator"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

// Environment variables describing the fallback appliance. These keep their
// historical PROSBC_ names (not SBCFLEET_) so existing deployments keep
// working unchanged.
const (
	EnvFallbackBaseURL  = "PROSBC_BASE_URL"
	EnvFallbackUsername = "PROSBC_USERNAME"
	EnvFallbackPassword = "PROSBC_PASSWORD"
	EnvFallbackConfigID = "PROSBC_CONFIG_ID"
)

// DefaultFallbackConfigRef is the configuration selected on the fallback
// appliance when PROSBC_CONFIG_ID is unset.
const DefaultFallbackConfigRef = "3"

// FallbackAppliance builds the environment-derived default appliance, used
// when an operation names no appliance id. Returns (nil, "") when
// PROSBC_BASE_URL is unset; partial definitions (URL without credentials)
// still return the appliance so the first login fails loudly instead of
// silently targeting nothing.
func FallbackAppliance() (*models.Appliance, string) {
	baseURL := os.Getenv(EnvFallbackBaseURL)
	if baseURL == "" {
		return nil, ""
	}

	configRef := os.Getenv(EnvFallbackConfigID)
	if configRef == "" {
		configRef = DefaultFallbackConfigRef
	}

	return &models.Appliance{
		ID:       "default",
		BaseURL:  baseURL,
		Username: os.Getenv(EnvFallbackUsername),
		Password: os.Getenv(EnvFallbackPassword),
		Active:   true,
	}, configRef
}

// ProsbcOptions translates the fleet section into appliance driver options.
// Metrics are wired by the caller; nil metrics disable collection.
func (c *FleetConfig) ProsbcOptions(sm prosbc.SessionMetrics, fm prosbc.FileOpMetrics) prosbc.Options {
	return prosbc.Options{
		SessionTTL:     c.SessionTTL,
		ProbeInterval:  c.ProbeInterval,
		ConfigTTL:      c.ConfigCacheTTL,
		ListTTL:        c.ListCacheTTL,
		ProbeMax:       c.ProbeMax,
		OpTimeout:      c.OpTimeout,
		SessionMetrics: sm,
		FileMetrics:    fm,
	}
}

// OrchestratorOptions translates the fleet section into orchestrator options.
func (c *FleetConfig) OrchestratorOptions(m orchestrator.Metrics) orchestrator.Options {
	return orchestrator.Options{
		FanOutWorkers:  c.FanOutWorkers,
		GlobalInFlight: c.GlobalInFlight,
		Metrics:        m,
	}
}
