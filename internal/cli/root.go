// Package cli provides the command-line interface for the watchlist dashboard.
package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"watchlist-dashboard/internal/config"
	"watchlist-dashboard/internal/logging"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// from the --config directory before any subcommand runs.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Logger: logger})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "watchdash",
		Short: "Watchlist dashboard - classify and rank watched stocks against target entries",
		Long: `watchdash polls a quote provider for a watchlist of ticker symbols,
classifies each one as BUY, ALERT, NEAR or HOLD against its target entry
price, and keeps a ranked dashboard refreshed on a fixed interval.

  BUY    price at or below the target entry
  ALERT  down more than 5% on the day (overrides every other tier)
  NEAR   within 5% above the target entry
  HOLD   everything else

The provider API key is read from WATCHDASH_API_KEY (environment or .env).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/watchdash)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("demo", false, "use placeholder quotes instead of the provider")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	addCoreCommands(rootCmd, app)
	addWatchlistCommands(rootCmd, app)
	addMonitoringCommands(rootCmd, app)
	addServeCommands(rootCmd, app)

	return rootCmd
}

// init loads configuration and rebuilds the logger from it. A preset Config
// is kept as is.
func (app *App) init(cmd *cobra.Command) error {
	debug, _ := cmd.Flags().GetBool("debug")
	demo, _ := cmd.Flags().GetBool("demo")
	app.Demo = app.Demo || demo

	if app.Config == nil {
		dir, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		app.Config = cfg
		app.Logger = app.newLogger(cmd, true)
	}

	if debug {
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || !app.Config.UI.ColorEnabled {
		cmd.Flags().Set("no-color", "true")
	}
	return nil
}

// newLogger builds a logger from the logging section. Console output goes to
// the command's stderr.
func (app *App) newLogger(cmd *cobra.Command, console bool) zerolog.Logger {
	l := app.Config.Logging
	level := l.Level
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = "debug"
	}
	return logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      level,
		Console:    console && l.Console,
		File:       l.File,
		FilePath:   filepath.Join(app.Config.Dir, "logs", "watchdash.log"),
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Out:        cmd.ErrOrStderr(),
	})
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("watchdash v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.ConfigFile()})
			}
			output.Println(app.Config.ConfigFile())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and the active watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			entries, source, err := app.loadEntries(cmd.Context())
			if err != nil {
				output.Error("Watchlist validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"valid":   true,
					"source":  source,
					"symbols": len(entries),
					"api_key": app.Config.HasAPIKey(),
				})
			}
			output.Success("✓ Configuration is valid")
			output.Printf("  Watchlist: %s (%d symbols)\n", source, len(entries))
			if !app.Config.HasAPIKey() {
				output.Warning("  No provider API key set (%s); only --demo will work", config.EnvAPIKey)
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Provider")
	output.Printf("  Base URL:        %s\n", cfg.Provider.BaseURL)
	output.Printf("  Path:            %s\n", cfg.Provider.Path)
	output.Printf("  Timeout:         %s\n", cfg.Provider.Timeout)
	output.Printf("  Max req/min:     %d\n", cfg.Provider.MaxRequestsPerMinute)
	if cfg.Provider.BreakerThreshold > 0 {
		output.Printf("  Breaker:         %d failures, %s cooldown\n", cfg.Provider.BreakerThreshold, cfg.Provider.BreakerCooldown)
	} else {
		output.Printf("  Breaker:         %s\n", output.DimText("disabled"))
	}
	apiKey := output.Red("not set")
	if cfg.HasAPIKey() {
		apiKey = output.Green("set")
	}
	output.Printf("  API key:         %s\n", apiKey)
	output.Println()

	output.Bold("Poller")
	output.Printf("  Interval:        %s\n", cfg.Poller.Interval)
	output.Printf("  Fallback:        %s\n", cfg.Poller.Fallback)
	output.Println()

	output.Bold("Watchlist")
	output.Printf("  Source:          %s\n", cfg.Watchlist.Source)
	switch cfg.Watchlist.Source {
	case config.SourceFile:
		output.Printf("  Path:            %s\n", cfg.Watchlist.Path)
	case config.SourceStore:
		output.Printf("  Name:            %s\n", cfg.Watchlist.Name)
	}
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Refresh/min:     %d\n", cfg.Server.RefreshPerMinute)
	if cfg.Server.AllowedOrigin != "" {
		output.Printf("  Allowed origin:  %s\n", cfg.Server.AllowedOrigin)
	}
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
}
