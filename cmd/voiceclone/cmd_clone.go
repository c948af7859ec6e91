package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/petrzlen/voiceclone-golang/internal/config"
	"github.com/petrzlen/voiceclone-golang/pkg/studio"
	"github.com/petrzlen/voiceclone-golang/pkg/transcriber"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type cloneOptions struct {
	input      string
	text       string
	play       bool
	transcribe bool
}

func newCloneCommand(opts *rootOptions) *cobra.Command {
	cloneOpts := &cloneOptions{}
	cmd := &cobra.Command{
		Use:   "clone [text...]",
		Short: "Record (or upload) a voice sample and have the service read the text in that voice",
		Example: `  voiceclone clone --text "Hello there"
  voiceclone clone --input sample.wav --play Hello there`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cloneOpts.text == "" {
				cloneOpts.text = strings.Join(args, " ")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runClone(ctx, cmd, opts.cfg, cloneOpts)
		},
	}
	cmd.Flags().StringVarP(&cloneOpts.input, "input", "i", "", "upload this audio file instead of recording")
	cmd.Flags().StringVarP(&cloneOpts.text, "text", "t", "", "text to synthesize, defaults to the positional arguments")
	cmd.Flags().BoolVar(&cloneOpts.play, "play", false, "play the synthesized audio")
	cmd.Flags().BoolVar(&cloneOpts.transcribe, "transcribe", false, "log what Whisper hears in the sample before submitting (needs OPENAI_API_KEY)")
	return cmd
}

func runClone(ctx context.Context, cmd *cobra.Command, cfg *config.Config, cloneOpts *cloneOptions) error {
	s, err := newStudio(cfg, cmd.OutOrStdout(), cloneOpts.play)
	if err != nil {
		return err
	}
	defer s.Close()

	if cloneOpts.input != "" {
		if _, err = s.ImportFile(cloneOpts.input); err != nil {
			return err
		}
	} else if err = recordTake(ctx, cmd, s); err != nil {
		return err
	}

	if cloneOpts.transcribe {
		checkSample(ctx, cfg, s)
	}

	outcome := s.Submit(ctx, cloneOpts.text)
	if !outcome.OK() {
		return outcome.Failure
	}

	path, _, _, err := s.DownloadResult(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)

	if cloneOpts.play {
		if err = s.PlayResult(ctx); err != nil {
			return err
		}
		waitPlayback(ctx, s)
	}
	return nil
}

// checkSample is best effort, a failing transcription never blocks the submission.
func checkSample(ctx context.Context, cfg *config.Config, s *studio.Studio) {
	whisper, err := newWhisper(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("skipping sample transcription")
		return
	}
	current, ok := s.Store().Current()
	if !ok {
		return
	}
	transcript, err := transcriber.TranscribeArtifact(ctx, whisper, current, "")
	if err != nil {
		log.Warn().Err(err).Msg("cannot transcribe voice sample")
		return
	}
	if strings.TrimSpace(transcript) == "" {
		log.Warn().Msg("no speech recognized in the voice sample, the clone will likely be poor")
	}
}
