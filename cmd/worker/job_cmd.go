package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/jobs"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

func newRunCmd() *cobra.Command {
	var profileID string
	var confirm bool

	cmd := &cobra.Command{
		Use:   "run <directory>",
		Short: "Scan a directory and transcode every media file in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			printer := newProgressPrinter(cmd.ErrOrStderr(), a.logger)

			job, err := a.jobs.Start(cmd.Context(), jobs.StartRequest{
				SourceDirectory: args[0],
				ProfileID:       profileID,
				Confirm:         confirm,
				ScanProgress:    printer.Scan,
				Progress:        printer.Transcode,
			})
			if job != nil {
				printJob(out, job)
				printTasks(out, job)
				if job.Status == models.JobStatusAwaitingConfirmation {
					fmt.Fprintln(out, "Run 'worker confirm' to start processing.")
				}
			}
			if err != nil {
				return err
			}
			return jobError(job)
		},
	}

	cmd.Flags().StringVarP(&profileID, "profile", "p", "", "encoding profile id")
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "start processing right after the scan")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func newScanCmd() *cobra.Command {
	var profileID string

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Scan a directory and wait for confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			printer := newProgressPrinter(cmd.ErrOrStderr(), a.logger)
			job, err := a.jobs.Scan(cmd.Context(), jobs.StartRequest{
				SourceDirectory: args[0],
				ProfileID:       profileID,
				ScanProgress:    printer.Scan,
			})
			if job != nil {
				printJob(cmd.OutOrStdout(), job)
				printTasks(cmd.OutOrStdout(), job)
			}
			if err != nil {
				return err
			}
			return jobError(job)
		},
	}

	cmd.Flags().StringVarP(&profileID, "profile", "p", "", "encoding profile id")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func newConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Process the job waiting for confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			printer := newProgressPrinter(cmd.ErrOrStderr(), a.logger)
			job, err := a.jobs.Confirm(cmd.Context(), printer.Transcode)
			if errors.Is(err, jobs.ErrNotAwaitingConfirmation) {
				return fmt.Errorf("%w: start one with 'worker scan'", err)
			}
			if job != nil {
				printJob(cmd.OutOrStdout(), job)
				printTasks(cmd.OutOrStdout(), job)
			}
			if err != nil {
				return err
			}
			return jobError(job)
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the last interrupted job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			printer := newProgressPrinter(cmd.ErrOrStderr(), a.logger)
			job, err := a.jobs.Resume(cmd.Context(), printer.Transcode)
			if errors.Is(err, jobs.ErrNoResumableJob) {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to resume.")
				if job != nil {
					printJob(cmd.OutOrStdout(), job)
				}
				return nil
			}
			if job != nil {
				printJob(cmd.OutOrStdout(), job)
				printTasks(cmd.OutOrStdout(), job)
			}
			if err != nil {
				return err
			}
			return jobError(job)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last job and whether one is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if owner, ok := jobs.ReadLockOwner(a.cfg.Paths.JobStateDir); ok {
				fmt.Fprintf(out, "Running: job %s (pid %d on %s since %s)\n",
					owner.JobID, owner.PID, owner.Hostname, owner.CreatedAt)
			}

			job, err := a.store.Load()
			if err != nil {
				return err
			}
			if job == nil {
				fmt.Fprintln(out, "No job recorded.")
				return nil
			}
			printJob(out, job)
			printTasks(out, job)
			if job.Resumable() {
				fmt.Fprintln(out, "Run 'worker resume' to continue.")
			}
			return nil
		},
	}
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the configured encoding and repair profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Encoding profiles:")
			if len(a.cfg.Profiles.Encoding) == 0 {
				fmt.Fprintln(out, "  (none configured)")
			}
			for _, p := range a.cfg.Profiles.Encoding {
				fmt.Fprintf(out, "  %-20s %s (%s)\n", p.ID, p.Name, p.Extension())
			}
			fmt.Fprintln(out, "Repair strategies:")
			for _, s := range a.chain.Strategies(repairOptions(a)) {
				fmt.Fprintf(out, "  %-38s %s\n", s.ID, s.Name)
			}
			return nil
		},
	}
}
