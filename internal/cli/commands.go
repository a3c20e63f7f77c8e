package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gymops/backend/internal/db"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/service"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applied, err := rt.app.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newSeedCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.json>",
		Short: "Load contracts, equipment, technicians and tickets from a JSON fixture",
		Long: `Load reference data from a JSON fixture with the top-level keys
contracts, equipment, technicians and tickets. Rows are copied in one
transaction; the load fails if any id already exists.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read fixture: %w", err)
			}
			var f db.Fixture
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("parse fixture %s: %w", args[0], err)
			}
			counts, err := rt.app.Store.Seed(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	}
}

func newGenerateCmd(rt *runtime) *cobra.Command {
	var (
		contractID string
		opts       service.GenerateOptions
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate preventive maintenance tasks",
		Long: `Generate preventive maintenance tasks for every active contract, or for
one contract with --contract. Re-running is safe: occurrences that already
have a task are skipped.

Examples:
  maintctl generate --dry-run
  maintctl generate --months 6
  maintctl generate --contract 3f1c... --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := rt.app.Engine.Generation
			if contractID != "" {
				res, err := gen.GenerateForContract(cmd.Context(), contractID, opts)
				if err != nil {
					return fmt.Errorf("generate %s: %w", contractID, err)
				}
				res.Tasks = nil
				return printJSON(cmd.OutOrStdout(), res)
			}
			summary, err := gen.GenerateAll(cmd.Context(), opts)
			if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
				return perr
			}
			if err != nil {
				return fmt.Errorf("generation aborted: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&contractID, "contract", "c", "", "only this contract")
	cmd.Flags().IntVarP(&opts.MonthsAhead, "months", "m", 0, "months ahead to plan (default from GENERATION_MONTHS_AHEAD)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "refresh pending tasks and cancel orphaned ones")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be created without writing")
	return cmd
}

func newAssignCmd(rt *runtime) *cobra.Command {
	var ticket bool
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Auto-assign the best technician to one task or ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := rt.app.Engine.Assignment
			var (
				out service.AssignmentOutcome
				err error
			)
			if ticket {
				out, err = svc.AssignTicket(cmd.Context(), args[0])
			} else {
				out, err = svc.AssignTask(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("assign %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&ticket, "ticket", false, "the id is a ticket, not a task")
	return cmd
}

func newAssignPendingCmd(rt *runtime) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "assign-pending",
		Short: "Auto-assign every unassigned pending task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := rt.app.Engine.Assignment.AssignPending(cmd.Context(), limit)
			if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max tasks to process (0 = all)")
	return cmd
}

func newRefreshSLACmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-sla",
		Short: "Recompute and store the SLA of every open ticket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := rt.app.Engine.SLA.RefreshOpenTickets(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
				return perr
			}
			return err
		},
	}
}

func newReportCmd(rt *runtime) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the compliance and efficiency report",
		Long: `Print task compliance, ticket SLA compliance and the efficiency index per
contract and overall. The window defaults to the last 30 days.

Examples:
  maintctl report
  maintctl report --from 2024-01-01 --to 2024-03-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports := rt.app.Engine.Reports
			window := service.DefaultWindow(reports.Clock.Now())
			if from != "" {
				d, err := time.Parse(models.DateLayout, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				window.From = d
			}
			if to != "" {
				d, err := time.Parse(models.DateLayout, to)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				window.To = d
			}
			report, err := reports.Compliance(cmd.Context(), window)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	return cmd
}
