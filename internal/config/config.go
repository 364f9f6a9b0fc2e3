// Package config loads orchestrator configuration from a YAML file
// with environment-variable overrides, following the layering pattern
// of the teacher's internal/config package (master file + overrides).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the orchestrator's recognized options (spec.md §6.5).
type Config struct {
	BaseDir             string `yaml:"base_dir"`
	HeartbeatTimeoutSec int    `yaml:"heartbeat_timeout_sec"`
	WorkerTimeoutMin    int    `yaml:"worker_timeout_minutes"`
	MaxRetries          int    `yaml:"max_retries"`
	RetryDelaySeconds   int    `yaml:"retry_delay_seconds"`

	// StaleRunAfterMinutes is the open-run-after-restart staleness
	// threshold (spec.md §4.5 step 4). Kept independent of
	// WorkerTimeoutMin per the spec's open question (DESIGN.md §Open
	// Question 2).
	StaleRunAfterMinutes int `yaml:"stale_run_after_minutes"`

	// LockTimeoutSeconds / LockPollMillis tune filelock.Acquire calls
	// made by the state manager.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
	LockPollMillis     int `yaml:"lock_poll_millis"`

	HTTP HTTPConfig `yaml:"http"`

	Notify NotifyConfig `yaml:"notify"`

	StatusMirror StatusMirrorConfig `yaml:"status_mirror"`
}

// HTTPConfig configures the optional status/metrics/websocket server.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NotifyConfig selects and configures the Notification Sink (spec.md §6.4).
type NotifyConfig struct {
	Sink         string `yaml:"sink"` // "stdout", "redis", "pubsub"
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	PubSubTopic  string `yaml:"pubsub_topic"`
	GCPProject   string `yaml:"gcp_project"`
}

// StatusMirrorConfig configures the optional Postgres read replica of
// status.json.
type StatusMirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Defaults matching spec.md §6.5.
const (
	DefaultHeartbeatTimeoutSec  = 180
	DefaultWorkerTimeoutMin     = 30
	DefaultMaxRetries           = 3
	DefaultRetryDelaySeconds    = 60
	DefaultStaleRunAfterMinutes = 30
	DefaultLockTimeoutSeconds   = 10
	DefaultLockPollMillis       = 20
)

// Load reads path as YAML, applies defaults for any zero field, then
// layers environment-variable overrides on top (ORCH_BASE_DIR,
// ORCH_HEARTBEAT_TIMEOUT_SEC, ORCH_WORKER_TIMEOUT_MINUTES,
// ORCH_MAX_RETRIES, ORCH_RETRY_DELAY_SECONDS). max_retries is the
// exception: it defaults to DefaultMaxRetries only when absent, and an
// explicit 0 is kept (it disables auto-retry).
func Load(path string) (*Config, error) {
	cfg := &Config{MaxRetries: DefaultMaxRetries}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("config: base_dir is required")
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HeartbeatTimeoutSec == 0 {
		cfg.HeartbeatTimeoutSec = DefaultHeartbeatTimeoutSec
	}
	if cfg.WorkerTimeoutMin == 0 {
		cfg.WorkerTimeoutMin = DefaultWorkerTimeoutMin
	}
	if cfg.RetryDelaySeconds == 0 {
		cfg.RetryDelaySeconds = DefaultRetryDelaySeconds
	}
	if cfg.StaleRunAfterMinutes == 0 {
		cfg.StaleRunAfterMinutes = DefaultStaleRunAfterMinutes
	}
	if cfg.LockTimeoutSeconds == 0 {
		cfg.LockTimeoutSeconds = DefaultLockTimeoutSeconds
	}
	if cfg.LockPollMillis == 0 {
		cfg.LockPollMillis = DefaultLockPollMillis
	}
	if cfg.Notify.Sink == "" {
		cfg.Notify.Sink = "stdout"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCH_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("ORCH_HEARTBEAT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatTimeoutSec = n
		}
	}
	if v := os.Getenv("ORCH_WORKER_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerTimeoutMin = n
		}
	}
	if v := os.Getenv("ORCH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ORCH_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryDelaySeconds = n
		}
	}
}

// HeartbeatTimeout returns HeartbeatTimeoutSec as a time.Duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSec) * time.Second
}

// WorkerTimeout returns WorkerTimeoutMin as a time.Duration.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutMin) * time.Minute
}

// StaleRunAfter returns StaleRunAfterMinutes as a time.Duration.
func (c *Config) StaleRunAfter() time.Duration {
	return time.Duration(c.StaleRunAfterMinutes) * time.Minute
}

// RetryDelay returns RetryDelaySeconds as a time.Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// LockTimeout returns LockTimeoutSeconds as a time.Duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// LockPoll returns LockPollMillis as a time.Duration.
func (c *Config) LockPoll() time.Duration {
	return time.Duration(c.LockPollMillis) * time.Millisecond
}
