package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// Test tuning fallbacks with no layers at all
	t.Run("NormalizedDefaults", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", t.TempDir())

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Governor tuning falls back to engine defaults
		assert.Equal(t, 2, cfg.Governor.MaxConcurrent)
		assert.Equal(t, 250*time.Millisecond, cfg.Governor.MinDelay)
		assert.Equal(t, 5*time.Second, cfg.Governor.MaxDelay)
		assert.Equal(t, 1.5, cfg.Governor.BackoffFactor)
		assert.Equal(t, 0.8, cfg.Governor.DecayFactor)
		assert.Equal(t, 5, cfg.Governor.PauseThreshold)
		assert.Equal(t, 30*time.Second, cfg.Governor.PauseDuration)

		// Pool tuning
		assert.Equal(t, 5, cfg.Pool.LoginAttempts)
		assert.Equal(t, 3*time.Second, cfg.Pool.ThrottleBase)
		assert.Equal(t, 2*time.Second, cfg.Pool.ServerErrBase)

		// Executor tuning
		assert.Equal(t, 5*time.Second, cfg.Executor.CooldownBase)
		assert.Equal(t, 3, cfg.Executor.MaxCycles)

		// Capacity tuning
		assert.Equal(t, 20, cfg.Capacity.Cap)
		assert.Equal(t, 17, cfg.Capacity.Margin)
		assert.Equal(t, 5, cfg.Capacity.SweepLimit)

		// Consistency tuning
		assert.Equal(t, 4, cfg.Consistency.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Consistency.BaseDelay)

		// Store path falls back to the XDG data dir
		assert.NotEmpty(t, cfg.Store.Path)
	})

	// Test supplied override layers (what the CLI passes from viper)
	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"api": map[string]any{
				"base_url": "https://api.example.test",
				"timeout":  "20s",
			},
			"governor": map[string]any{
				"min_delay": "750ms",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)
		assert.Equal(t, 20*time.Second, cfg.API.Timeout)
		assert.Equal(t, 750*time.Millisecond, cfg.Governor.MinDelay)

		// Untouched siblings keep their normalized defaults
		assert.Equal(t, 5*time.Second, cfg.Governor.MaxDelay)
		assert.Equal(t, 20, cfg.Capacity.Cap)
	})

	t.Run("LaterLayerWinsWithinOverrides", func(t *testing.T) {
		fileLayer := map[string]any{
			"server":   map[string]any{"port": 1111},
			"governor": map[string]any{"max_concurrent": 4},
		}
		flagLayer := map[string]any{
			"server": map[string]any{"port": 2222},
		}

		cfg, err := Load(ctx, fileLayer, flagLayer)
		require.NoError(t, err)

		assert.Equal(t, 2222, cfg.Server.Port)
		assert.Equal(t, 4, cfg.Governor.MaxConcurrent)
	})

	// Test environment variable overrides
	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("QUOTAPILOT_PORT", "3000")
		t.Setenv("QUOTAPILOT_LOG_LEVEL", "warn")
		t.Setenv("QUOTAPILOT_METRICS_ENABLED", "false")
		t.Setenv("QUOTAPILOT_GOVERNOR_BACKOFF_FACTOR", "2.5")
		t.Setenv("QUOTAPILOT_GOVERNOR_DECAY_FACTOR", "0.5")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 2.5, cfg.Governor.BackoffFactor)
		assert.Equal(t, 0.5, cfg.Governor.DecayFactor)
	})

	// Environment variables win over supplied layers so an operator can
	// override a deployed config file without editing it.
	t.Run("EnvBeatsSuppliedLayers", func(t *testing.T) {
		t.Setenv("QUOTAPILOT_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, 4000, cfg.Server.Port)
	})

	t.Run("InvalidBackoffFactorEnv", func(t *testing.T) {
		t.Setenv("QUOTAPILOT_GOVERNOR_BACKOFF_FACTOR", "wide")

		_, err := Load(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUOTAPILOT_GOVERNOR_BACKOFF_FACTOR")
	})

	t.Run("RejectsContradictoryDelays", func(t *testing.T) {
		overrides := map[string]any{
			"governor": map[string]any{
				"min_delay": "10s",
				"max_delay": "1s",
			},
		}

		_, err := Load(ctx, overrides)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_delay")
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	retrieved := GetConfig()
	assert.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Governor.MaxConcurrent, retrieved.Governor.MaxConcurrent)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["QUOTAPILOT_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["QUOTAPILOT_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["QUOTAPILOT_DB_PATH"], "DB_PATH env var must be mapped")
	assert.True(t, envVarNames["QUOTAPILOT_API_BASE_URL"], "API_BASE_URL env var must be mapped")
	assert.True(t, envVarNames["QUOTAPILOT_CAPACITY_CAP"], "CAPACITY_CAP env var must be mapped")
	assert.True(t, envVarNames["QUOTAPILOT_CREDENTIALS_FILE"], "CREDENTIALS_FILE env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	t.Setenv("QUOTAPILOT_GOVERNOR_MIN_DELAY", "100ms")
	t.Setenv("QUOTAPILOT_CAPACITY_RETRY_PAUSE", "4s")
	t.Setenv("QUOTAPILOT_EXECUTOR_COOLDOWN_BASE", "7s")

	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 100*time.Millisecond, cfg.Governor.MinDelay)
	assert.Equal(t, 4*time.Second, cfg.Capacity.RetryPause)
	assert.Equal(t, 7*time.Second, cfg.Executor.CooldownBase)
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}
