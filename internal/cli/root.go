// Package cli wires the recondeck processes together. Everything the
// handlers need is constructed here and injected; no package holds global
// state.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "recondeck",
	Short: "Asynchronous recon scan-orchestration backend",
	Long: `recondeck - asynchronous recon scan-orchestration backend

Serves an HTTP API that initializes scans, enriches them on demand (DNS,
geolocation, technologies, headers, TLS, screenshots), streams directory
enumeration over websockets, and dispatches port scans to background
workers over Pub/Sub.

WARNING: Scan only systems you have explicit permission to test.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-2)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recondeck %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// setupLogger installs the process-wide structured logger.
func setupLogger(verbose int) *slog.Logger {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
