package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configTemplate is the commented template written by `sbcfleetd init`.
// It is kept as a literal (rather than marshalled from GetDefaultConfig)
// so the generated file carries comments a fresh operator can read.
const configTemplate = `# sbcfleet Configuration File
#
# Configuration sources (in order of precedence):
#   1. CLI flags
#   2. Environment variables (SBCFLEET_*, e.g. SBCFLEET_LOGGING_LEVEL=DEBUG)
#   3. This file
#   4. Built-in defaults
#
# The fallback appliance (used when an operation names no appliance) is
# configured through the environment, not this file:
#   PROSBC_BASE_URL, PROSBC_USERNAME, PROSBC_PASSWORD, PROSBC_CONFIG_ID

logging:
  # Minimum level: DEBUG, INFO, WARN, ERROR
  level: %q
  # Output format: text or json
  format: %q
  # Destination: stdout, stderr, or a file path
  output: %q

# Maximum time to wait for in-flight appliance operations on shutdown
shutdown_timeout: %s

database:
  # sqlite (single-node) or postgres
  type: %q
  sqlite:
    path: %q
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: sbcfleet
  #   user: sbcfleet
  #   password: ""

server:
  # Admin/health HTTP server
  port: %d
  read_timeout: %s
  write_timeout: %s
  idle_timeout: %s

metrics:
  # Prometheus /metrics endpoint (opt-in)
  enabled: false
  port: 9090

fleet:
  # Login cookie lifetime and liveness probe cadence
  session_ttl: %s
  probe_interval: %s
  # Validated configuration selections and scraped file listings
  config_cache_ttl: %s
  list_cache_ttl: %s
  registry_ttl: %s
  # Upper bound of the file-database id probe
  probe_max: %d
  # Per-appliance operation deadline
  op_timeout: %s
  # Fan-out concurrency
  fan_out_workers: %d
  global_in_flight: %d
  # Background scheduler cadence (negative disables)
  sync_interval: %s
  removal_check_interval: %s
`

// renderConfigTemplate fills the template with the built-in defaults.
func renderConfigTemplate() string {
	cfg := GetDefaultConfig()
	return fmt.Sprintf(configTemplate,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.ShutdownTimeout,
		string(cfg.Database.Type),
		cfg.Database.SQLite.Path,
		cfg.Server.Port,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		cfg.Server.IdleTimeout,
		cfg.Fleet.SessionTTL,
		cfg.Fleet.ProbeInterval,
		cfg.Fleet.ConfigCacheTTL,
		cfg.Fleet.ListCacheTTL,
		cfg.Fleet.RegistryTTL,
		cfg.Fleet.ProbeMax,
		cfg.Fleet.OpTimeout,
		cfg.Fleet.FanOutWorkers,
		cfg.Fleet.GlobalInFlight,
		cfg.Fleet.SyncInterval,
		cfg.Fleet.RemovalCheckInterval,
	)
}

// InitConfig writes a commented default configuration to the default
// location and returns its path. Refuses to overwrite an existing file
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := renderConfigTemplate()

	// Guard against template drift: the generated file must parse.
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("generated config is not valid YAML: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
