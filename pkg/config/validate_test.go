package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidServerPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_MissingShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ShutdownTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing shutdown timeout")
	}
}

func TestValidate_MissingSQLitePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.SQLite.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing sqlite path")
	}
	if !strings.Contains(err.Error(), "sqlite path") {
		t.Errorf("Expected sqlite path error, got: %v", err)
	}
}

func TestValidate_ProbeIntervalVsSessionTTL(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Fleet.ProbeInterval = 30 * time.Minute
	cfg.Fleet.SessionTTL = 20 * time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when probe interval exceeds session TTL")
	}
	if !strings.Contains(err.Error(), "probe_interval") {
		t.Errorf("Expected probe_interval error, got: %v", err)
	}
}

func TestValidate_WorkersExceedGlobalCap(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Fleet.FanOutWorkers = 128
	cfg.Fleet.GlobalInFlight = 64

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when workers exceed global cap")
	}
	if !strings.Contains(err.Error(), "fan_out_workers") {
		t.Errorf("Expected fan_out_workers error, got: %v", err)
	}
}

func TestValidate_MetricsPortCollision(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for colliding ports")
	}
}
