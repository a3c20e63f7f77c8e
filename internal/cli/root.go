// Package cli provides maintctl, the operator command line for the
// maintenance engine.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gymops/backend/internal/bootstrap"
	"github.com/gymops/backend/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// runtime holds the wired application for one invocation. Tests inject an
// app up front; otherwise it is built from config before each command.
type runtime struct {
	app     *bootstrap.App
	owned   bool
	verbose bool
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:   "maintctl",
		Short: "Operate the gym equipment maintenance engine",
		Long: `maintctl runs the maintenance engine against the configured database.

It generates preventive maintenance tasks from contracts, assigns
technicians, refreshes ticket SLAs and prints compliance reports.
Configuration is read from .env and the environment, like the server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if rt.app != nil || cmd.Name() == "help" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := zerolog.WarnLevel
			if rt.verbose {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Str("service", "maintctl").Logger()

			app, err := bootstrap.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			rt.app, rt.owned = app, true
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.owned && rt.app != nil {
				rt.app.Close()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newMigrateCmd(rt))
	root.AddCommand(newSeedCmd(rt))
	root.AddCommand(newGenerateCmd(rt))
	root.AddCommand(newAssignCmd(rt))
	root.AddCommand(newAssignPendingCmd(rt))
	root.AddCommand(newRefreshSLACmd(rt))
	root.AddCommand(newReportCmd(rt))
	return root
}

// Execute runs maintctl with os.Args.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return newRootCmd(&runtime{}).ExecuteContext(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
