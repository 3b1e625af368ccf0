// Package commands implements the comlockctl CLI, grounded on Ciphera's
// cmd/ciphera/commands package layout: one cobra.Command constructor per
// file, wired together in Execute.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var logLevel string

// Execute builds and runs the root comlockctl command.
func Execute() error {
	root := &cobra.Command{
		Use:   "comlockctl",
		Short: "ComLock demo CLI: run a loopback handshake and inspect identities",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		identityCmd(),
		demoCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}
