package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/quotapilot/quotapilot/internal/observability"
)

func TestLoggerInitialization(t *testing.T) {
	t.Run("CLI logger creation", func(t *testing.T) {
		observability.InitCLILogger("quotapilot-test", false)

		if observability.CLILogger == nil {
			t.Fatal("CLI logger should not be nil after initialization")
		}

		observability.CLILogger.Info("cli logger ready",
			zap.String("component", "test"))
	})

	t.Run("CLI logger verbose sets debug level", func(t *testing.T) {
		observability.InitCLILogger("quotapilot-test", true)

		if observability.CLILogger == nil {
			t.Fatal("CLI logger should not be nil after initialization")
		}

		observability.CLILogger.Debug("debug visible in verbose mode",
			zap.Bool("verbose", true))
	})

	t.Run("Structured server logger", func(t *testing.T) {
		observability.InitServerLogger("quotapilot-test", "info", "STRUCTURED")

		if observability.ServerLogger == nil {
			t.Fatal("Server logger should not be nil after initialization")
		}

		observability.ServerLogger.Info("structured log line",
			zap.String("component", "test"),
			zap.Int("request_count", 3))
	})

	t.Run("Simple profile server logger", func(t *testing.T) {
		observability.InitServerLogger("quotapilot-test", "warn", "SIMPLE")

		if observability.ServerLogger == nil {
			t.Fatal("Server logger should not be nil after initialization")
		}
	})

	t.Run("Server logger with namespace", func(t *testing.T) {
		observability.InitServerLogger("quotapilot-test", "info", "STRUCTURED", "quotapilot")

		if observability.ServerLogger == nil {
			t.Fatal("Server logger should not be nil after initialization")
		}
	})
}

func TestStructuredProfileAcceptsCorrelationMiddleware(t *testing.T) {
	config := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: "INFO",
		Service:      "correlation-test",
		Environment:  "test",
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
	}

	logger, err := logging.New(config)
	if err != nil {
		t.Fatalf("Failed to create structured logger: %v", err)
	}

	logger.Info("correlation id attached automatically",
		zap.String("feature", "correlation"))
}

func TestEmbeddedCrucibleVersion(t *testing.T) {
	version := crucible.GetVersion()

	if version.Gofulmen == "" {
		t.Error("Gofulmen version should not be empty")
	}
	if version.Crucible == "" {
		t.Error("Crucible version should not be empty")
	}

	if versionStr := crucible.GetVersionString(); versionStr == "" {
		t.Error("Version string should not be empty")
	}
}
