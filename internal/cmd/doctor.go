package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotapilot/quotapilot/internal/config"
	"github.com/quotapilot/quotapilot/internal/core/store"
	errwrap "github.com/quotapilot/quotapilot/internal/errors"
	"github.com/quotapilot/quotapilot/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		observability.CLILogger.Info("=== " + config.AppName + " doctor ===")
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Running diagnostic checks...")
		observability.CLILogger.Info("")

		allChecks := true
		totalChecks := 8

		// Check 1: Go version
		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			observability.CLILogger.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			observability.CLILogger.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		// Check 2: Crucible access
		version := crucible.GetVersion()
		if version.Crucible != "" {
			observability.CLILogger.Info(fmt.Sprintf("[2/%d] Checking Crucible access... ✅ v%s", totalChecks, version.Crucible), zap.String("crucible_version", version.Crucible))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[2/%d] Checking Crucible access... ❌ Cannot access Crucible", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewExternalServiceError("Crucible service unavailable"))
		}

		// Check 3: Gofulmen access
		if version.Gofulmen != "" {
			observability.CLILogger.Info(fmt.Sprintf("[3/%d] Checking Gofulmen access... ✅ v%s", totalChecks, version.Gofulmen), zap.String("gofulmen_version", version.Gofulmen))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[3/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", totalChecks))
			allChecks = false
		}

		// Check 4: Config directory
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			observability.CLILogger.Error(fmt.Sprintf("[4/%d] Checking config directory... ❌ Cannot resolve config directory", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve config directory", errwrap.NewInternalError("config directory not resolved"))
		} else {
			configDir := filepath.Dir(configPath)
			observability.CLILogger.Info(fmt.Sprintf("[4/%d] Checking config directory... ✅ %s", totalChecks, configDir), zap.String("config_dir", configDir))
		}

		// Check 5: Environment
		observability.CLILogger.Info(fmt.Sprintf("[5/%d] Checking environment... ✅ %s/%s", totalChecks, runtime.GOOS, runtime.GOARCH),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		// Check 6: Store
		cfg, cfgErr := loadConfig(ctx)
		var db *store.Store
		if cfgErr != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking store... ⚠️  config not loaded", totalChecks), zap.Error(cfgErr))
			allChecks = false
		} else {
			if cfg.Store.URL != "" {
				observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking store... ✅ %s (remote)", totalChecks, cfg.Store.URL),
					zap.String("db_url", cfg.Store.URL))
			} else {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = config.DefaultStorePath()
				}
				// Resolve to absolute path for clarity
				absPath, _ := filepath.Abs(dbPath)
				if info, statErr := os.Stat(absPath); statErr == nil {
					sizeStr := formatFileSize(info.Size())
					ageStr := formatTimeAgo(info.ModTime())
					observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking store... ✅ %s (%s, written %s)", totalChecks, absPath, sizeStr, ageStr),
						zap.String("db_path", absPath),
						zap.Int64("db_size", info.Size()))
				} else if os.IsNotExist(statErr) {
					observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking store... ✅ %s (created on first use)", totalChecks, absPath),
						zap.String("db_path", absPath))
				} else {
					observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking store... ⚠️  %s (error: %v)", totalChecks, absPath, statErr),
						zap.String("db_path", absPath),
						zap.Error(statErr))
					allChecks = false
				}
			}

			var storeErr error
			db, storeErr = openStoreWith(ctx, cfg)
			if storeErr != nil {
				observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking store... ⚠️  cannot open store", totalChecks), zap.Error(storeErr))
				db = nil
				allChecks = false
			} else {
				defer db.Close() //nolint:errcheck
			}
		}

		// Check 7: Credentials
		credsOK := false
		if cfgErr != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking credentials... ⚠️  skipped (config not loaded)", totalChecks))
		} else {
			credsPath := cfg.Pool.CredentialsFile
			creds, credsErr := config.LoadCredentials(credsPath)
			switch {
			case credsErr != nil:
				observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking credentials... ⚠️  %v", totalChecks, credsErr))
				observability.CLILogger.Info(fmt.Sprintf("       Run '%s doctor init' to scaffold %s", config.AppName, credsPath))
				allChecks = false
			case creds.HasSecondary():
				credsOK = true
				observability.CLILogger.Info(fmt.Sprintf("[7/%d] Checking credentials... ✅ primary and secondary configured", totalChecks))
			default:
				credsOK = true
				observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking credentials... ⚠️  primary only (rotation unavailable)", totalChecks))
			}
		}

		// Check 8: Remote API. Logs in every configured identity and runs
		// one governed list round-trip.
		switch {
		case cfgErr != nil:
			observability.CLILogger.Warn(fmt.Sprintf("[8/%d] Checking remote API... ⚠️  skipped (config not loaded)", totalChecks))
		case strings.TrimSpace(cfg.API.BaseURL) == "":
			observability.CLILogger.Warn(fmt.Sprintf("[8/%d] Checking remote API... ⚠️  not configured (set api.base_url or %s_API_BASE_URL)", totalChecks, config.EnvPrefix))
		case !credsOK:
			observability.CLILogger.Warn(fmt.Sprintf("[8/%d] Checking remote API... ⚠️  skipped (credentials not loaded)", totalChecks))
			allChecks = false
		default:
			orch, orchErr := newOrchestrator(cfg, db)
			if orchErr != nil {
				observability.CLILogger.Warn(fmt.Sprintf("[8/%d] Checking remote API... ⚠️  %v", totalChecks, orchErr))
				allChecks = false
				break
			}
			if err := orch.connect(ctx); err != nil {
				observability.CLILogger.Error(fmt.Sprintf("[8/%d] Checking remote API... ❌ %v", totalChecks, err))
				ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Remote API unreachable", err)
			}
			snap := orch.Tracker.Snapshot()
			var authed []string
			for _, ident := range orch.Pool.Snapshot() {
				if ident.Authenticated {
					authed = append(authed, ident.Name)
				}
			}
			observability.CLILogger.Info(fmt.Sprintf("[8/%d] Checking remote API... ✅ %d/%d slots used, authenticated: %s",
				totalChecks, snap.Count, snap.Cap, strings.Join(authed, ", ")),
				zap.Int("count", snap.Count),
				zap.Int("cap", snap.Cap))
		}

		observability.CLILogger.Info("")
		if allChecks {
			observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", config.AppName))
		} else {
			observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		observability.CLILogger.Info("")
		observability.CLILogger.Info("=== End Diagnostics ===")
	},
}

var (
	doctorInitForce   bool
	doctorInitBaseURL string
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default config and credentials files",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		baseURL := strings.TrimSpace(doctorInitBaseURL)
		if strings.EqualFold(baseURL, "prompt") {
			value, err := promptForValue("Enter remote API base URL (leave blank to skip): ")
			if err != nil {
				return err
			}
			baseURL = value
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(buildInitConfig(baseURL)), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))

		// Scaffold a credentials template unless one is already present.
		// Mode 0600: the file holds passwords once filled in.
		credsPath := config.DefaultCredentialsPath()
		if credsPath != "" && !fileExists(credsPath) {
			if err := os.WriteFile(credsPath, []byte(buildCredentialsTemplate()), 0600); err != nil {
				return fmt.Errorf("write credentials template: %w", err)
			}
			observability.CLILogger.Info("Credentials template created", zap.String("path", credsPath))
		}

		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		dataDir := config.DefaultDataDir()

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir != "" {
			observability.CLILogger.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			observability.CLILogger.Info("  Data directory: (not resolved)")
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		if cfg.Store.URL != "" {
			observability.CLILogger.Info(fmt.Sprintf("  Store:          %s (remote)", cfg.Store.URL))
		} else {
			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = config.DefaultStorePath()
			}
			absPath, _ := filepath.Abs(dbPath)
			if info, statErr := os.Stat(absPath); statErr == nil {
				observability.CLILogger.Info(fmt.Sprintf("  Store:          %s (%s)", absPath, formatFileSize(info.Size())))
			} else if os.IsNotExist(statErr) {
				observability.CLILogger.Info(fmt.Sprintf("  Store:          %s (not created yet)", absPath))
			} else {
				observability.CLILogger.Warn("Store status error", zap.String("db_path", absPath), zap.Error(statErr))
			}
		}
		observability.CLILogger.Info(fmt.Sprintf("  Credentials:    %s (%s)", cfg.Pool.CredentialsFile, existenceStatus(fileExists(cfg.Pool.CredentialsFile))))

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Environment:")
		for _, suffix := range []string{"API_BASE_URL", "PRIMARY_EMAIL", "PRIMARY_PASSWORD", "SECONDARY_EMAIL", "SECONDARY_PASSWORD"} {
			name := config.EnvPrefix + "_" + suffix
			observability.CLILogger.Info(fmt.Sprintf("  %s: %s", name, envStatus(name)))
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Effective Settings:")
		observability.CLILogger.Info(fmt.Sprintf("  api.base_url: %s", orUnset(cfg.API.BaseURL)))
		observability.CLILogger.Info(fmt.Sprintf("  governor.max_concurrent: %d", cfg.Governor.MaxConcurrent))
		observability.CLILogger.Info(fmt.Sprintf("  governor.min_delay: %s", cfg.Governor.MinDelay))
		observability.CLILogger.Info(fmt.Sprintf("  capacity.cap: %d (margin %d)", cfg.Capacity.Cap, cfg.Capacity.Margin))
		observability.CLILogger.Info(fmt.Sprintf("  executor.max_cycles: %d", cfg.Executor.MaxCycles))

		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = config.DefaultStorePath()
			}
			absPath, _ := filepath.Abs(dbPath)
			if err := os.Remove(absPath); err == nil {
				observability.CLILogger.Info("Database removed", zap.String("path", absPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Database already removed", zap.String("path", absPath))
			} else {
				return fmt.Errorf("remove database: %w", err)
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config and credentials files",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))

		if fileExists(cfg.Pool.CredentialsFile) {
			if _, err := config.LoadCredentials(cfg.Pool.CredentialsFile); err != nil {
				return err
			}
			observability.CLILogger.Info("Credentials are valid", zap.String("path", cfg.Pool.CredentialsFile))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitBaseURL, "api-base-url", "", "set the remote API base URL or use 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func buildInitConfig(baseURL string) string {
	lines := []string{
		fmt.Sprintf("# %s config - created by '%s doctor init'", config.AppName, config.AppName),
		"api:",
	}

	if strings.TrimSpace(baseURL) != "" {
		lines = append(lines, fmt.Sprintf("  base_url: %q", baseURL))
	} else {
		lines = append(lines, "  # base_url: \"https://api.example.com\"  # Set via "+config.EnvPrefix+"_API_BASE_URL or uncomment")
	}

	lines = append(lines,
		"  timeout: 15s",
		"pool:",
		fmt.Sprintf("  credentials_file: %q", config.DefaultCredentialsPath()),
		"governor:",
		"  max_concurrent: 2",
		"  min_delay: 250ms",
		"  max_delay: 5s",
		"capacity:",
		"  cap: 20",
		"  margin: 17",
		"logging:",
		"  level: info",
		"  profile: structured",
	)

	return strings.Join(lines, "\n") + "\n"
}

func buildCredentialsTemplate() string {
	lines := []string{
		fmt.Sprintf("# %s credentials - fill in both identities", config.AppName),
		fmt.Sprintf("# Environment overrides: %s_PRIMARY_EMAIL, %s_PRIMARY_PASSWORD, ...", config.EnvPrefix, config.EnvPrefix),
		"primary:",
		"  email: \"\"",
		"  password: \"\"",
		"secondary:",
		"  email: \"\"",
		"  password: \"\"",
	}
	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}

func orUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	return value
}
