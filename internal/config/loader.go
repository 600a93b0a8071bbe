// Package config provides centralized configuration management for QuotaPilot.
// It merges configuration in layers:
// Layer 1: Built-in defaults (seeded by the CLI before loading)
// Layer 2: User config file (discovered via XDG paths)
// Layer 3: Environment variables (QUOTAPILOT_*)
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load merges the supplied override layers in order, applies QUOTAPILOT_*
// environment variables on top, and decodes the result into a typed Config.
// Callers typically pass their defaults-plus-config-file settings as the
// first layer; environment variables win over every supplied layer.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(_ context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	// Load environment variable overrides
	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	// Float-valued governor factors need explicit parsing; the env spec
	// types only cover string, int, and bool.
	prefix := envPrefix()
	for _, spec := range []struct {
		env   string
		field string
	}{
		{env: prefix + "GOVERNOR_BACKOFF_FACTOR", field: "backoff_factor"},
		{env: prefix + "GOVERNOR_DECAY_FACTOR", field: "decay_factor"},
	} {
		value := strings.TrimSpace(os.Getenv(spec.env))
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", spec.env, err)
		}
		ensureMap(envOverrides, "governor")[spec.field] = parsed
	}

	merged := map[string]any{}
	for _, layer := range runtimeOverrides {
		mergeLayer(merged, layer)
	}
	mergeLayer(merged, envOverrides)

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath()
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// mergeLayer copies src into dst, merging nested maps key by key so a later
// layer can override a single leaf without clobbering its siblings.
func mergeLayer(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				mergeLayer(dstMap, srcMap)
				continue
			}
			next := map[string]any{}
			mergeLayer(next, srcMap)
			dst[key] = next
			continue
		}
		dst[key] = value
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func envPrefix() string {
	prefix := EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// UserConfigPaths returns the config file locations searched, in priority order.
// Uses gofulmen/config for XDG-compliant path discovery
func UserConfigPaths() []string {
	return gfconfig.GetAppConfigPaths(AppName)
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "SNAPSHOT_INTERVAL", Path: []string{"server", "snapshot_interval"}, Type: EnvString},

		// Logging config (REQUIRED per Workhorse Standard)
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Remote API config
		{Name: prefix + "API_BASE_URL", Path: []string{"api", "base_url"}, Type: EnvString},
		{Name: prefix + "API_TIMEOUT", Path: []string{"api", "timeout"}, Type: EnvString},

		// Governor config (float factors are parsed separately in Load)
		{Name: prefix + "GOVERNOR_MAX_CONCURRENT", Path: []string{"governor", "max_concurrent"}, Type: EnvInt},
		{Name: prefix + "GOVERNOR_MIN_DELAY", Path: []string{"governor", "min_delay"}, Type: EnvString},
		{Name: prefix + "GOVERNOR_MAX_DELAY", Path: []string{"governor", "max_delay"}, Type: EnvString},
		{Name: prefix + "GOVERNOR_PAUSE_THRESHOLD", Path: []string{"governor", "pause_threshold"}, Type: EnvInt},
		{Name: prefix + "GOVERNOR_PAUSE_DURATION", Path: []string{"governor", "pause_duration"}, Type: EnvString},
		{Name: prefix + "GOVERNOR_WINDOW_SPAN", Path: []string{"governor", "window_span"}, Type: EnvString},

		// Credential pool config
		{Name: prefix + "CREDENTIALS_FILE", Path: []string{"pool", "credentials_file"}, Type: EnvString},
		{Name: prefix + "LOGIN_ATTEMPTS", Path: []string{"pool", "login_attempts"}, Type: EnvInt},
		{Name: prefix + "LOGIN_THROTTLE_BASE", Path: []string{"pool", "throttle_base"}, Type: EnvString},
		{Name: prefix + "LOGIN_SERVER_ERR_BASE", Path: []string{"pool", "server_err_base"}, Type: EnvString},

		// Executor config
		{Name: prefix + "EXECUTOR_COOLDOWN_BASE", Path: []string{"executor", "cooldown_base"}, Type: EnvString},
		{Name: prefix + "EXECUTOR_MAX_CYCLES", Path: []string{"executor", "max_cycles"}, Type: EnvInt},

		// Capacity config
		{Name: prefix + "CAPACITY_CAP", Path: []string{"capacity", "cap"}, Type: EnvInt},
		{Name: prefix + "CAPACITY_MARGIN", Path: []string{"capacity", "margin"}, Type: EnvInt},
		{Name: prefix + "CAPACITY_SWEEP_LIMIT", Path: []string{"capacity", "sweep_limit"}, Type: EnvInt},
		{Name: prefix + "CAPACITY_RETRY_PAUSE", Path: []string{"capacity", "retry_pause"}, Type: EnvString},

		// Consistency config
		{Name: prefix + "CONSISTENCY_MAX_ATTEMPTS", Path: []string{"consistency", "max_attempts"}, Type: EnvInt},
		{Name: prefix + "CONSISTENCY_BASE_DELAY", Path: []string{"consistency", "base_delay"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultCredentialsPath returns the XDG-compliant path to the two-identity
// credentials file.
func DefaultCredentialsPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "credentials.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// defaultStorePath is an unexported alias for internal use.
func defaultStorePath() string {
	return DefaultStorePath()
}
