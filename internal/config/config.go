package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the medic engine.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Servers    map[string]ServerSpec `yaml:"servers"`
	Thresholds Thresholds            `yaml:"thresholds"`
	Retry      RetryDefaults         `yaml:"retry"`
	Patterns   PatternsConfig        `yaml:"patterns"`
	Logging    LoggingConfig         `yaml:"logging"`
	Cache      CacheConfig           `yaml:"cache"`
}

// ServerConfig controls the daemon's own listeners.
type ServerConfig struct {
	Address          string        `yaml:"address"`
	MetricsAddress   string        `yaml:"metricsAddress"`
	GracefulTimeout  time.Duration `yaml:"gracefulTimeout"`
	MonitorInterval  time.Duration `yaml:"monitorInterval"`
	DiagnoseInterval time.Duration `yaml:"diagnoseInterval"`
}

// ServerSpec describes one target tool server to diagnose.
type ServerSpec struct {
	Name              string            `yaml:"-"`
	Command           string            `yaml:"command"`
	Args              []string          `yaml:"args"`
	Env               map[string]string `yaml:"env"`
	ExcludeOperations []string          `yaml:"excludeOperations"`
}

// Thresholds groups the numeric limits consumed by checks and load scenarios.
type Thresholds struct {
	ConnectTimeout      time.Duration `yaml:"connectTimeout"`
	ExecuteTimeout      time.Duration `yaml:"executeTimeout"`
	HealthProbeTimeout  time.Duration `yaml:"healthProbeTimeout"`
	MaxResponseTimeMs   float64       `yaml:"maxResponseTimeMs"`
	MinSuccessRate      float64       `yaml:"minSuccessRate"`
	MaxConcurrent       int           `yaml:"maxConcurrent"`
	LoadTestDuration    time.Duration `yaml:"loadTestDuration"`
	MaxMemoryMB         float64       `yaml:"maxMemoryMB"`
	MaxCPUPercent       float64       `yaml:"maxCPUPercent"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
}

// RetryDefaults seeds the remediation engine's retry policy.
type RetryDefaults struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	BaseDelay       time.Duration `yaml:"baseDelay"`
	MaxDelay        time.Duration `yaml:"maxDelay"`
	ExponentialBase float64       `yaml:"exponentialBase"`
	Jitter          bool          `yaml:"jitter"`
}

// PatternsConfig controls loading of an external issue-pattern pack.
type PatternsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of discovered operation lists.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	TLS           bool          `yaml:"tls"`
	OperationsTTL time.Duration `yaml:"operationsTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MEDIC_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	for name, spec := range cfg.Servers {
		spec.Name = name
		cfg.Servers[name] = spec
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:          ":50061",
			MetricsAddress:   ":2114",
			GracefulTimeout:  10 * time.Second,
			MonitorInterval:  30 * time.Second,
			DiagnoseInterval: 5 * time.Minute,
		},
		Thresholds: Thresholds{
			ConnectTimeout:      10 * time.Second,
			ExecuteTimeout:      30 * time.Second,
			HealthProbeTimeout:  5 * time.Second,
			MaxResponseTimeMs:   2000,
			MinSuccessRate:      0.95,
			MaxConcurrent:       50,
			LoadTestDuration:    60 * time.Second,
			MaxMemoryMB:         512,
			MaxCPUPercent:       80,
			ConfidenceThreshold: 0.8,
		},
		Retry: RetryDefaults{
			MaxAttempts:     3,
			BaseDelay:       time.Second,
			MaxDelay:        60 * time.Second,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:       false,
			DialTimeout:   2 * time.Second,
			ReadTimeout:   500 * time.Millisecond,
			WriteTimeout:  500 * time.Millisecond,
			OperationsTTL: 5 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEDIC_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MEDIC_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MEDIC_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.MonitorInterval = d
		}
	}
	if v := os.Getenv("MEDIC_DIAGNOSE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.DiagnoseInterval = d
		}
	}
	if v := os.Getenv("MEDIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEDIC_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MEDIC_PATTERNS_PATH"); v != "" {
		cfg.Patterns.Path = v
	}
	if v := os.Getenv("MEDIC_MIN_SUCCESS_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.MinSuccessRate = f
		}
	}
	if v := os.Getenv("MEDIC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Thresholds.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MEDIC_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("MEDIC_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MEDIC_CACHE_ENABLED"); v == "true" || v == "1" {
		cfg.Cache.Enabled = true
	}
}

// Validate reports structural problems that prevent the daemon from running.
// Per-check validation of individual specs stays in the orchestrator so a
// single bad entry degrades that server only.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}
	if c.Thresholds.MinSuccessRate < 0 || c.Thresholds.MinSuccessRate > 1 {
		return fmt.Errorf("minSuccessRate must be within [0,1]")
	}
	if c.Thresholds.ConfidenceThreshold < 0 || c.Thresholds.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidenceThreshold must be within [0,1]")
	}
	return nil
}
