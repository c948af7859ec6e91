package main

import (
	"fmt"

	"github.com/petrzlen/voiceclone-golang/internal/config"
	"github.com/petrzlen/voiceclone-golang/pkg/artifact"
	"github.com/petrzlen/voiceclone-golang/pkg/transcriber"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newWhisper(cfg *config.Config) (transcriber.Transcriber, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return transcriber.NewOpenAIWhisper(openai.NewClient(cfg.OpenAIAPIKey)), nil
}

func newTranscribeCommand(opts *rootOptions) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Print what Whisper hears in a voice sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			whisper, err := newWhisper(opts.cfg)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store := artifact.NewStore()
			defer store.Close()
			sample, err := store.ImportFile(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			transcript, err := transcriber.TranscribeArtifact(ctx, whisper, sample, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), transcript)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "expected words, improves accuracy")
	return cmd
}
