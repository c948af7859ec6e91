package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrzlen/voiceclone-golang/internal/networking"
	"github.com/petrzlen/voiceclone-golang/internal/utils"
	"github.com/petrzlen/voiceclone-golang/pkg/studio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var listenAddr string
	var play bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live recording state over a websocket, Enter toggles the recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := newStudio(cfg, cmd.OutOrStdout(), play)
			if err != nil {
				return err
			}
			defer s.Close()

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return networking.ListenAndServe(groupCtx, cfg.Server.ListenAddr, networking.NewServeMux(groupCtx, s, cfg.FeedbackInterval()))
			})
			group.Go(func() error {
				healthCtx, healthCancel := context.WithTimeout(groupCtx, cfg.Timeout()+defaultHealthTimeout)
				defer healthCancel()
				if err := newWorkflow(cfg).Client().Health(healthCtx); err != nil {
					log.Warn().Err(err).Str("service", cfg.Service.BaseURL).Msg("voice-cloning service is not healthy, submissions will fail")
				}
				return nil
			})
			group.Go(func() error {
				return toggleRoutine(groupCtx, cmd, s, play)
			})

			err = group.Wait()
			if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen_addr")
	cmd.Flags().BoolVar(&play, "play", false, "play every finished take back")
	return cmd
}

const defaultHealthTimeout = 5 * time.Second

var errQuit = errors.New("quit requested")

// toggleRoutine turns stdin lines into studio actions: Enter toggles the recording, "c" clears it, "q" quits.
// Without a terminal (stdin at EOF) it just waits for ctx.
func toggleRoutine(ctx context.Context, cmd *cobra.Command, s *studio.Studio, play bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Press Enter to start or stop recording, c + Enter to clear, q + Enter to quit")
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
		}

		switch line {
		case "q":
			return errQuit
		case "c":
			s.ClearRecording()
		default:
			wasCapturing := s.Snapshot().Capturing
			if err := s.ToggleRecording(ctx); err != nil {
				// Already notified, the next Enter retries.
				continue
			}
			if wasCapturing && play {
				utils.Dbg(s.PlayRecording())
			}
		}
	}
}
