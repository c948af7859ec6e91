package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// newConvertCommand wraps raw S16LE captures (e.g. dumped by a debug build) into playable wav files.
func newConvertCommand(_ *rootOptions) *cobra.Command {
	var sampleRate, numChannels uint32
	var output string
	cmd := &cobra.Command{
		Use:   "convert <input.pcm>",
		Short: "Wrap raw 16-bit PCM into a wav container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			input := args[0]
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".wav"
			}

			data, err := afero.ReadFile(fs, input)
			if err != nil {
				return fmt.Errorf("cannot read %s %w", input, err)
			}
			mimeType := audio_utils.PCMMime(sampleRate, numChannels)
			wavData, err := audio_utils.ConvertPCMToWav(data, mimeType)
			if err != nil {
				return err
			}
			if err = afero.WriteFile(fs, output, wavData, 0o644); err != nil {
				return fmt.Errorf("cannot write %s %w", output, err)
			}
			log.Info().Str("input", input).Str("output", output).Dur("duration", audio_utils.PCMDuration(mimeType, len(data))).Msg("converted pcm to wav")
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&sampleRate, "rate", 44100, "sample rate of the raw input")
	cmd.Flags().Uint32Var(&numChannels, "channels", 1, "interleaved channels of the raw input")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path, defaults to the input with a .wav extension")
	return cmd
}
