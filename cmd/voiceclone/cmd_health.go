package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the voice-cloning service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.cfg.Timeout()+defaultHealthTimeout)
			defer cancel()
			if err := newWorkflow(opts.cfg).Client().Health(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", opts.cfg.Service.BaseURL)
			return nil
		},
	}
}
