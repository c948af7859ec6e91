package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petrzlen/voiceclone-golang/internal/config"
	"github.com/petrzlen/voiceclone-golang/internal/utils"
	"github.com/petrzlen/voiceclone-golang/pkg/audioio"
	"github.com/petrzlen/voiceclone-golang/pkg/feedback"
	"github.com/petrzlen/voiceclone-golang/pkg/notify"
	"github.com/petrzlen/voiceclone-golang/pkg/studio"
	"github.com/petrzlen/voiceclone-golang/pkg/submission"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// rootOptions are filled by the persistent flags and PersistentPreRunE.
type rootOptions struct {
	configPath string
	logLevel   string
	envFile    string

	cfg *config.Config
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "voiceclone",
		Short:         "Record a voice sample and have it read any text in that voice",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv(opts.envFile)
			cfg, err := config.Load(afero.NewOsFs(), opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			utils.SetupZerolog(cfg.LogLevel)
			log.Debug().Str("service", cfg.Service.BaseURL).Str("config", opts.configPath).Msg("config loaded")
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the TOML config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file exported before reading the environment")

	cmd.AddCommand(
		newRecordCommand(opts),
		newCloneCommand(opts),
		newServeCommand(opts),
		newConvertCommand(opts),
		newTranscribeCommand(opts),
		newHealthCommand(opts),
	)
	return cmd
}

// signalContext is cancelled on Ctrl+C, so a hanging submission or server can be interrupted.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newWorkflow(cfg *config.Config) *submission.Workflow {
	return submission.NewWorkflow(
		submission.NewClient(cfg.Service.BaseURL, nil),
		submission.WithTimeout(cfg.Timeout()),
		submission.WithMaxTextLength(cfg.Service.MaxTextLength),
	)
}

// newStudio opens the real devices. Speakers are only opened with withPlayback, oto allows one context per process.
func newStudio(cfg *config.Config, out io.Writer, withPlayback bool) (*studio.Studio, error) {
	opts := studio.Options{
		InputDevice: audioio.NewMicrophone(),
		Workflow:    newWorkflow(cfg),
		Notifier:    notify.Multi{notify.LogNotifier{}, printNotifier{out: out}},
		Feedback:    feedback.NewGenerator(cfg.Feedback.Channels, cfg.FeedbackInterval()),
		Constraints: audioio.Constraints{
			EchoCancellation: cfg.Capture.EchoCancellation,
			NoiseSuppression: cfg.Capture.NoiseSuppression,
			SampleRate:       cfg.Capture.SampleRate,
			Channels:         cfg.Capture.Channels,
		},
		Fs:        afero.NewOsFs(),
		OutputDir: cfg.Paths.OutputDir,
	}
	if withPlayback {
		speakers, err := audioio.NewSpeakers(int(cfg.Capture.SampleRate), int(cfg.Capture.Channels))
		if err != nil {
			return nil, fmt.Errorf("cannot open speakers %w", err)
		}
		opts.OutputDevice = speakers
	}
	return studio.New(opts), nil
}

// printNotifier shows the toasts on the terminal.
type printNotifier struct {
	out io.Writer
}

func (p printNotifier) Notify(n notify.Notification) {
	if n.Description == "" {
		fmt.Fprintf(p.out, "[%s] %s\n", n.Severity, n.Title)
		return
	}
	fmt.Fprintf(p.out, "[%s] %s: %s\n", n.Severity, n.Title, n.Description)
}

// waitForEnter blocks until the user presses Enter or ctx is done.
func waitForEnter(ctx context.Context, in io.Reader, out io.Writer, prompt string) {
	fmt.Fprintln(out, prompt)
	entered := make(chan struct{})
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		utils.Dbg(err)
		close(entered)
	}()
	select {
	case <-entered:
	case <-ctx.Done():
	}
}

// recordTake runs one Enter-to-stop capture through the studio.
func recordTake(ctx context.Context, cmd *cobra.Command, s *studio.Studio) error {
	if err := s.StartRecording(ctx); err != nil {
		return err
	}
	waitForEnter(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), "Press Enter to stop recording...")
	recording, finalized := s.StopRecording()
	if !finalized {
		return fmt.Errorf("recording was not finalized")
	}
	log.Info().Str("handle", string(recording.Handle)).Int("bytes", recording.Size()).Msg("recording finalized")
	return nil
}

// waitPlayback blocks until playback finishes or ctx is done.
func waitPlayback(ctx context.Context, s *studio.Studio) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.Snapshot().PlayingBack {
		select {
		case <-ctx.Done():
			utils.Dbg(s.StopPlayback())
			return
		case <-ticker.C:
		}
	}
}
