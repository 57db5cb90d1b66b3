package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Thresholds.ConnectTimeout != 10*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.Thresholds.ConnectTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.ExponentialBase != 2.0 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medic.yaml")
	data := `
servers:
  echo:
    command: /usr/local/bin/echo-server
    args: ["--stdio"]
    env:
      TOKEN: abc
thresholds:
  minSuccessRate: 0.9
  maxConcurrent: 40
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	spec, ok := cfg.Servers["echo"]
	if !ok {
		t.Fatalf("missing server entry")
	}
	if spec.Name != "echo" || spec.Command != "/usr/local/bin/echo-server" {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if cfg.Thresholds.MinSuccessRate != 0.9 {
		t.Fatalf("yaml override not applied")
	}
	// Unset fields keep defaults.
	if cfg.Thresholds.ExecuteTimeout != 30*time.Second {
		t.Fatalf("default execute timeout lost: %v", cfg.Thresholds.ExecuteTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEDIC_MIN_SUCCESS_RATE", "0.8")
	t.Setenv("MEDIC_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Thresholds.MinSuccessRate != 0.8 {
		t.Fatalf("env override not applied")
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
}

func TestValidateRejectsEmptyServers(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure without servers")
	}
}
