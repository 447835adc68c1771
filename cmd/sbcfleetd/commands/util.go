package commands

import (
	"fmt"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/config"
	"github.com/telique/sbcfleet/pkg/fleet/store"
	"github.com/telique/sbcfleet/pkg/metrics"
	"github.com/telique/sbcfleet/pkg/orchestrator"
	"github.com/telique/sbcfleet/pkg/prosbc"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// buildStack wires the store, the appliance driver and the orchestrator from
// configuration. The caller owns the returned store and must Close it.
func buildStack(cfg *config.Config) (store.Store, *orchestrator.Orchestrator, error) {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize fleet store: %w", err)
	}

	registry := prosbc.NewRegistry(st, cfg.Fleet.RegistryTTL)
	if app, ref := config.FallbackAppliance(); app != nil {
		registry.WithFallback(app)
		logger.Info("Fallback appliance configured from environment",
			"base_url", app.BaseURL, "config_ref", ref)
	}

	svc := prosbc.NewService(registry, cfg.Fleet.ProsbcOptions(
		metrics.NewSessionMetrics(), metrics.NewFileOpMetrics()))

	orch := orchestrator.New(svc, st, cfg.Fleet.OrchestratorOptions(
		metrics.NewOrchestratorMetrics()))

	return st, orch, nil
}

// defaultConfigRef returns the configuration selected when an operation
// names none: the environment override, falling back to the historical "3".
func defaultConfigRef() string {
	if _, ref := config.FallbackAppliance(); ref != "" {
		return ref
	}
	return config.DefaultFallbackConfigRef
}
