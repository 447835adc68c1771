package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/config"
	"github.com/telique/sbcfleet/pkg/metrics"
	"github.com/telique/sbcfleet/pkg/orchestrator"
)

var startConfigRef string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sbcfleet daemon",
	Long: `Start the sbcfleet daemon.

The daemon runs the background reconciliation scheduler (periodic inventory
sync against every active appliance and the end-of-month removal sweep) and
serves /healthz on the configured server port. When metrics are enabled, a
Prometheus /metrics endpoint is served on its own port.

Examples:
  # Start with the default config file
  sbcfleetd start

  # Start with a custom config file
  sbcfleetd start --config /etc/sbcfleet/config.yaml

  # Start with environment variable overrides
  SBCFLEET_LOGGING_LEVEL=DEBUG sbcfleetd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startConfigRef, "config-ref", "", "ProSBC configuration the scheduler targets (default: PROSBC_CONFIG_ID or \"3\")")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded",
		"source", configSource(GetConfigFile()),
		"level", cfg.Logging.Level, "format", cfg.Logging.Format)

	st, orch, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Store close error", "error", err)
		}
	}()

	configRef := startConfigRef
	if configRef == "" {
		configRef = defaultConfigRef()
	}

	// Health server
	healthSrv := newHealthServer(cfg)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server error", "error", err)
		}
	}()
	logger.Info("Health server listening", "port", cfg.Server.Port)

	// Metrics server (own port, only when enabled)
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:      metrics.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Background scheduler
	go runScheduler(ctx, orch, cfg, configRef)

	// Config hot-reload: only the log level is applied live
	stopWatch, err := watchConfig(GetConfigFile())
	if err != nil {
		logger.Warn("Config watch disabled", "error", err)
	} else if stopWatch != nil {
		defer stopWatch()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("Shutdown signal received, initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}

	logger.Info("Daemon stopped gracefully")
	return nil
}

// newHealthServer builds the /healthz listener.
func newHealthServer(cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// runScheduler drives the periodic reconciliation passes until ctx ends.
// The two passes tick independently so a slow fleet-wide sync does not
// delay the removal sweep.
func runScheduler(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config, configRef string) {
	if cfg.Fleet.SyncInterval > 0 {
		go runEvery(ctx, cfg.Fleet.SyncInterval, func() {
			reports, err := orch.ReplaceAll(ctx, configRef, "scheduler")
			if err != nil {
				logger.Error("Scheduled reconciliation finished with errors", "error", err)
			}
			for _, rep := range reports {
				if rep.Added+rep.Renamed+rep.Scheduled > 0 || rep.Error != "" {
					logger.Info("Reconciliation report",
						"appliance", rep.ApplianceID,
						"added", rep.Added, "renamed", rep.Renamed,
						"scheduled", rep.Scheduled, "error", rep.Error)
				}
			}
		})
	} else {
		logger.Info("Inventory reconciliation scheduler disabled")
	}

	if cfg.Fleet.RemovalCheckInterval > 0 {
		go runEvery(ctx, cfg.Fleet.RemovalCheckInterval, func() {
			processed, err := orch.ProcessPendingRemovals(ctx, time.Now())
			if err != nil {
				logger.Error("Removal sweep finished with errors", "processed", processed, "error", err)
			} else if processed > 0 {
				logger.Info("Removal sweep complete", "processed", processed)
			}
		})
	} else {
		logger.Info("Removal sweep disabled")
	}

	<-ctx.Done()
}

// runEvery invokes fn on a fixed interval, starting with one immediate run.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	fn()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// watchConfig watches the config file and applies log-level changes live.
// Returns a stop function, or (nil, nil) when no config file is in use.
func watchConfig(configPath string) (func(), error) {
	if configPath == "" {
		if !config.DefaultConfigExists() {
			return nil, nil
		}
		configPath = config.GetDefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(configPath); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := config.Load(configPath)
				if err != nil {
					logger.Warn("Config reload failed", "error", err)
					continue
				}
				logger.SetLevel(cfg.Logging.Level)
				logger.Info("Log level reloaded", "level", cfg.Logging.Level)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}

// configSource describes where configuration came from, for the startup log.
func configSource(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
