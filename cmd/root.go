// Package cmd provides the aipm command line interface.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectDir  string
	contextName string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "aipm",
	Short: "aipm - project memory checkpointing for AI sessions",
	Long: `aipm checkpoints the live memory store an AI assistant reads and writes,
keeping one named snapshot per project context under version control and
merging peer snapshots deterministically.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the CLI under a caller-owned context so an interrupt
// cancels the release wait instead of killing the process mid-operation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "Project root directory")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "Snapshot context name (defaults to config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
