package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/StuartCAlexander88/World-Queries/internal/pipeline"

	"github.com/spf13/cobra"
)

var skipLaunch bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the stack, wait for the database and run the verification query",
	Long: `Run locates docker-compose.yml by walking up from the working directory,
starts the stack with "docker compose up -d" (falling back to "docker-compose up -d"),
waits for the database to accept connections and prints the first column of
every row in the verification table.

The command prints a JSON summary to stdout and exits 0 on success or
non-zero when the database never became ready or the query failed. Logs and
compose output go to stderr.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&skipLaunch, "skip-launch", false, "do not run docker compose; only wait and verify")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if app.otelProvider != nil {
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			if err := app.otelProvider.Shutdown(shutCtx); err != nil {
				slog.Warn("OTEL shutdown error", "err", err)
			}
		}()
	}

	result, err := app.newPipeline(skipLaunch).Run(cmd.Context())
	printResult(cmd.OutOrStdout(), result)
	if err != nil {
		return fmt.Errorf("%s stage failed: %w", result.FailedStage, err)
	}

	slog.Info("world database verified")
	return nil
}

func printResult(w io.Writer, result *pipeline.Result) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		// Fallback to plain text if JSON encoding somehow fails.
		fmt.Fprintf(w, `{"status":%q}`+"\n", result.Status)
	}
}
