// Command worker scans a directory of media files, transcodes them with a
// configured encoding profile and repairs the files that fail to probe.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Batch transcode and repair media files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"),
		"configuration file (defaults only when empty)")

	root.AddCommand(
		newRunCmd(),
		newScanCmd(),
		newConfirmCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newProfilesCmd(),
		newDamagedCmd(),
		newTokenCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
