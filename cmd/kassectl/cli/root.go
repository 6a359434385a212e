// Package cli implements the kassectl administration commands.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vereinskasse/vereinskasse/internal/app"
)

var (
	envFile string
	debug   bool
)

// NewRootCmd assembles the kassectl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kassectl",
		Short: "Administer the club treasury backend",
		Long: `kassectl runs operational tasks against the treasury database and job queue.

Example:
  kassectl migrate
  kassectl jobs trigger review:lock_integrity
  kassectl jobs stats --scheduled 5
  kassectl integrity
  kassectl session issue --user 1 --roles admin`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env when present)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newMigrateCmd(), newJobsCmd(), newIntegrityCmd(), newSessionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func loadConfig() (*app.Config, error) {
	if envFile != "" {
		return app.LoadConfig(envFile)
	}
	return app.LoadConfig()
}
