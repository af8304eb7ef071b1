package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/StuartCAlexander88/World-Queries/internal/config"
	"github.com/StuartCAlexander88/World-Queries/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext

	// logOutput receives the JSON log stream. stdout is reserved for command
	// output such as the run summary.
	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "worldqueries",
	Short: "Bring up the world database stack and verify it answers queries",
	Long: `worldqueries starts the docker compose stack that hosts the world
database, waits until the database accepts connections and runs a single
verification query against it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogger(logLevel)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		}
		initLogger(cfg.Telemetry.LogLevel, cfg.Deployment.Password)

		app, err = buildAppContext(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("building app context: %w", err)
		}

		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(locateCmd)
}

// Execute is the entry point called by main. SIGINT and SIGTERM cancel the
// command context, which aborts any wait in progress.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// initLogger installs the JSON logger on logOutput. Every string in secrets is
// masked in all emitted records.
func initLogger(level string, secrets ...string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(telemetry.NewRedactHandler(telemetry.NewTraceHandler(handler), secrets...)))
}
