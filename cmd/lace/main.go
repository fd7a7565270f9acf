// Command lace is the CLI entry point for the agent runtime: send a message
// to a fresh or resumed thread, print its transcript as it streams, and
// prompt on the terminal for tool approvals.
//
// Grounded on haasonsaas-nexus's cmd/nexus/main.go — cobra root command,
// JSON-structured slog logging to stderr set up once in main, ldflags-
// populated build info surfaced through the root command's Version field.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Build information, populated by ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
