// Package cmd implements the quill command-line interface.
//
// quill is the backend for a web chat application: it persists
// conversations in PostgreSQL and relays completions to OpenRouter,
// streaming responses to the browser over SSE.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillchat/quill/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - conversation backend for the blog chat assistant",
	Long: `Quill persists chat conversations in PostgreSQL and streams
model completions from OpenRouter to the browser over SSE.

Run "quill serve" to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	slog.SetDefault(initLogger())
	return rootCmd.Execute()
}

// initLogger builds the process-wide logger.
//
// Log level is controlled by the DEBUG environment variable:
//   - DEBUG set (any value): debug level logging
//   - DEBUG not set: info level logging
//
// QUILL_LOG_JSON switches to JSON output for log aggregation.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("QUILL_LOG_JSON") != "" {
		cfg.JSON = true
	}
	return log.New(cfg)
}
