package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := middleware.GenerateToken(a.cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
