package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRecordCommand(opts *rootOptions) *cobra.Command {
	var play bool
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice sample from the default microphone and save it into the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := newStudio(opts.cfg, cmd.OutOrStdout(), play)
			if err != nil {
				return err
			}
			defer s.Close()

			if err = recordTake(ctx, cmd, s); err != nil {
				return err
			}
			if play {
				if err = s.PlayRecording(); err != nil {
					return err
				}
				waitPlayback(ctx, s)
			}

			path, err := s.DownloadRecording(time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&play, "play", false, "play the take back before saving it")
	return cmd
}
