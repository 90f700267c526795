package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/repair"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

func newDamagedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "damaged",
		Short: "Inspect and repair files that failed to probe",
	}
	cmd.AddCommand(
		newDamagedListCmd(),
		newDamagedVerifyCmd(),
		newDamagedRemoveCmd(),
		newDamagedClearCmd(),
		newDamagedRepairCmd(),
	)
	return cmd
}

func newDamagedListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered damaged files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.registry.List()
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func newDamagedVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-probe every entry and drop the readable ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			printer := newProgressPrinter(cmd.ErrOrStderr(), a.logger)
			remaining, err := a.registry.VerifyAll(cmd.Context(), a.prober, printer.Scan)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), remaining)
			return cmd.Context().Err()
		},
	}
}

func newDamagedRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove one entry from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.registry.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not registered", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newDamagedClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registry cleared")
			return nil
		},
	}
}

func newDamagedRepairCmd() *cobra.Command {
	var strategy string
	var all bool

	cmd := &cobra.Command{
		Use:   "repair [path...]",
		Short: "Run the repair strategies against damaged files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("give at least one path or --all")
			}

			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			paths := args
			if all {
				entries, err := a.registry.List()
				if err != nil {
					return err
				}
				paths = nil
				for _, e := range entries {
					if e.Status != models.DamagedStatusRepaired {
						paths = append(paths, e.Path)
					}
				}
			}

			opts := repairOptions(a)
			opts.Selected = strategy
			printer := newProgressPrinter(cmd.ErrOrStderr(), a.logger)
			opts.Progress = printer.Transcode

			out := cmd.OutOrStdout()
			var errs []error
			for _, p := range paths {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				abs, err := filepath.Abs(p)
				if err != nil {
					return err
				}

				outcome := a.chain.Repair(cmd.Context(), abs, opts)
				if errors.Is(outcome.Err, repair.ErrSelectionRequired) {
					return fmt.Errorf("%w: pick one with --strategy (see 'worker profiles')", outcome.Err)
				}
				if outcome.Repaired {
					fmt.Fprintf(out, "Repaired %s -> %s (%s)\n", abs, outcome.OutputPath, outcome.Strategy)
					continue
				}
				fmt.Fprintf(out, "Failed   %s: %v\n", abs, outcome.Err)
				errs = append(errs, outcome.Err)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d files could not be repaired", len(errs), len(paths))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "strategy id to run when not attempting sequentially")
	cmd.Flags().BoolVar(&all, "all", false, "repair every registered file that is not repaired yet")
	return cmd
}

func repairOptions(a *app) repair.Options {
	return repair.OptionsFromConfig(a.cfg.Processing)
}

func printEntries(w io.Writer, entries []models.DamagedFileEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No damaged files registered.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s %s\n", e.Status, e.Path)
		if e.ErrorDetails != "" {
			fmt.Fprintf(w, "  %s\n", e.ErrorDetails)
		}
		if e.RepairedPath != "" {
			fmt.Fprintf(w, "  repaired: %s\n", e.RepairedPath)
		}
		for _, at := range e.Attempts {
			fmt.Fprintf(w, "  %s %s: %s\n", at.At.Format("2006-01-02 15:04"), at.Strategy, at.Outcome)
		}
	}
}
