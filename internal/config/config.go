package config

import (
	"fmt"
	"time"

	"github.com/quotapilot/quotapilot/internal/core/capacity"
	"github.com/quotapilot/quotapilot/internal/core/consistency"
	"github.com/quotapilot/quotapilot/internal/core/engine"
	"github.com/quotapilot/quotapilot/internal/core/identity"
)

// Application identity. The binary name, config directory, and environment
// prefix all derive from these.
const (
	AppName   = "quotapilot"
	EnvPrefix = "QUOTAPILOT"
)

// Config represents the complete application configuration, merged from
// built-in defaults, the user config file, environment variables, and
// runtime overrides.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	API         APIConfig         `mapstructure:"api"`
	Governor    GovernorConfig    `mapstructure:"governor"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Capacity    CapacityConfig    `mapstructure:"capacity"`
	Consistency ConsistencyConfig `mapstructure:"consistency"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Health      HealthConfig      `mapstructure:"health"`
	Debug       DebugConfig       `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// SnapshotInterval controls how often serve mode persists governor
	// telemetry to the store. Zero disables periodic snapshots.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// APIConfig locates the remote address-book API.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GovernorConfig tunes the request governor.
type GovernorConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	DecayFactor    float64       `mapstructure:"decay_factor"`
	PauseThreshold int           `mapstructure:"pause_threshold"`
	PauseDuration  time.Duration `mapstructure:"pause_duration"`
	WindowSpan     time.Duration `mapstructure:"window_span"`
}

// PoolConfig tunes the credential pool.
type PoolConfig struct {
	// CredentialsFile points at the YAML file holding the primary and
	// secondary account credentials.
	CredentialsFile string        `mapstructure:"credentials_file"`
	LoginAttempts   int           `mapstructure:"login_attempts"`
	ThrottleBase    time.Duration `mapstructure:"throttle_base"`
	ServerErrBase   time.Duration `mapstructure:"server_err_base"`
}

// ExecutorConfig tunes rotation and cooldown cycles.
type ExecutorConfig struct {
	CooldownBase time.Duration `mapstructure:"cooldown_base"`
	MaxCycles    int           `mapstructure:"max_cycles"`
}

// CapacityConfig tunes quota tracking and cleanup.
type CapacityConfig struct {
	Cap        int           `mapstructure:"cap"`
	Margin     int           `mapstructure:"margin"`
	SweepLimit int           `mapstructure:"sweep_limit"`
	RetryPause time.Duration `mapstructure:"retry_pause"`
}

// ConsistencyConfig tunes visibility confirmation polling.
type ConsistencyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	// Metrics are also available at the main HTTP port in JSON format
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Normalize fills zero-valued tuning fields with the engine defaults so a
// partial config file still yields a runnable configuration.
func (c *Config) Normalize() {
	if c == nil {
		return
	}

	if c.Governor.MaxConcurrent <= 0 {
		c.Governor.MaxConcurrent = engine.DefaultMaxConcurrent
	}
	if c.Governor.MinDelay <= 0 {
		c.Governor.MinDelay = engine.DefaultMinDelay
	}
	if c.Governor.MaxDelay <= 0 {
		c.Governor.MaxDelay = engine.DefaultMaxDelay
	}
	if c.Governor.BackoffFactor <= 1 {
		c.Governor.BackoffFactor = engine.DefaultBackoffFactor
	}
	if c.Governor.DecayFactor <= 0 || c.Governor.DecayFactor >= 1 {
		c.Governor.DecayFactor = engine.DefaultDecayFactor
	}
	if c.Governor.PauseThreshold <= 0 {
		c.Governor.PauseThreshold = engine.DefaultPauseThreshold
	}
	if c.Governor.PauseDuration <= 0 {
		c.Governor.PauseDuration = engine.DefaultPauseDuration
	}
	if c.Governor.WindowSpan <= 0 {
		c.Governor.WindowSpan = engine.DefaultWindowSpan
	}

	if c.Pool.LoginAttempts <= 0 {
		c.Pool.LoginAttempts = identity.DefaultLoginAttempts
	}
	if c.Pool.ThrottleBase <= 0 {
		c.Pool.ThrottleBase = identity.DefaultThrottleBase
	}
	if c.Pool.ServerErrBase <= 0 {
		c.Pool.ServerErrBase = identity.DefaultServerErrBase
	}

	if c.Executor.CooldownBase <= 0 {
		c.Executor.CooldownBase = engine.DefaultCooldownBase
	}
	if c.Executor.MaxCycles <= 0 {
		c.Executor.MaxCycles = engine.DefaultMaxCycles
	}

	if c.Capacity.Cap <= 0 {
		c.Capacity.Cap = capacity.DefaultCap
	}
	if c.Capacity.Margin <= 0 {
		c.Capacity.Margin = capacity.DefaultMargin
	}
	if c.Capacity.SweepLimit <= 0 {
		c.Capacity.SweepLimit = capacity.DefaultSweepLimit
	}
	if c.Capacity.RetryPause <= 0 {
		c.Capacity.RetryPause = capacity.DefaultRetryPause
	}

	if c.Consistency.MaxAttempts <= 0 {
		c.Consistency.MaxAttempts = consistency.DefaultMaxAttempts
	}
	if c.Consistency.BaseDelay <= 0 {
		c.Consistency.BaseDelay = consistency.DefaultBaseDelay
	}
}

// Validate reports configuration values that cannot work at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration is required")
	}

	if c.Governor.MinDelay > c.Governor.MaxDelay {
		return fmt.Errorf("governor.min_delay %s exceeds governor.max_delay %s", c.Governor.MinDelay, c.Governor.MaxDelay)
	}
	if c.Governor.BackoffFactor <= 1 {
		return fmt.Errorf("governor.backoff_factor must be greater than 1, got %v", c.Governor.BackoffFactor)
	}
	if c.Governor.DecayFactor <= 0 || c.Governor.DecayFactor >= 1 {
		return fmt.Errorf("governor.decay_factor must be between 0 and 1, got %v", c.Governor.DecayFactor)
	}
	if c.Capacity.Margin > c.Capacity.Cap {
		return fmt.Errorf("capacity.margin %d exceeds capacity.cap %d", c.Capacity.Margin, c.Capacity.Cap)
	}
	return nil
}
