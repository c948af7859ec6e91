// Package studio wires capture, the artifact store, feedback, playback and submission into the one object a UI talks to.
// It is the error boundary: every failure is logged and turned into a notification, nothing escapes as a panic.
package studio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/artifact"
	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/audioio"
	"github.com/petrzlen/voiceclone-golang/pkg/feedback"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/petrzlen/voiceclone-golang/pkg/notify"
	"github.com/petrzlen/voiceclone-golang/pkg/playback"
	"github.com/petrzlen/voiceclone-golang/pkg/recorder"
	"github.com/petrzlen/voiceclone-golang/pkg/submission"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrNoPlayback = errors.New("no output device configured")
	ErrNoResult   = errors.New("nothing was synthesized yet")
)

// Snapshot is everything the visualization needs, it never exposes the audio itself.
type Snapshot struct {
	Capturing      bool       `json:"capturing"`
	PlayingBack    bool       `json:"playing_back"`
	Submitting     bool       `json:"submitting"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	Elapsed        string     `json:"elapsed"`
	StartedAt      *time.Time `json:"started_at,omitempty"` // Only while capturing
	HasRecording   bool       `json:"has_recording"`
	Levels         []float64  `json:"levels"`
}

// Options of New. OutputDevice is optional, without it playback reports ErrNoPlayback.
// Workflow is optional too, without it Submit fails validation with "No service configured".
// TickInterval of the elapsed counter is one second when zero.
type Options struct {
	InputDevice  audioio.InputDevice
	OutputDevice audioio.OutputDevice
	Workflow     *submission.Workflow
	Notifier     notify.Notifier
	Feedback     *feedback.Generator
	Constraints  audioio.Constraints
	TickInterval time.Duration
	Fs           afero.Fs
	OutputDir    string
}

type Studio struct {
	session  *recorder.Session
	store    *artifact.Store
	feedback *feedback.Generator
	player   *playback.Player
	workflow *submission.Workflow
	notifier notify.Notifier
	fs       afero.Fs
	outDir   string

	mutex      sync.Mutex // Protects lastResult and closed
	lastResult *submission.Result
	closed     bool
}

func New(opts Options) *Studio {
	s := &Studio{
		store:    artifact.NewStore(),
		feedback: opts.Feedback,
		workflow: opts.Workflow,
		notifier: opts.Notifier,
		fs:       opts.Fs,
		outDir:   opts.OutputDir,
	}
	if s.feedback == nil {
		s.feedback = feedback.NewGenerator(feedback.DefaultChannels, feedback.DefaultInterval)
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{}
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.outDir == "" {
		s.outDir = "output"
	}
	if opts.Constraints == (audioio.Constraints{}) {
		opts.Constraints = audioio.DefaultConstraints()
	}

	sessionOpts := []recorder.Option{
		recorder.WithConstraints(opts.Constraints),
		recorder.WithCapturingObserver(s.feedback.SetCapturing),
	}
	if opts.TickInterval > 0 {
		sessionOpts = append(sessionOpts, recorder.WithTickInterval(opts.TickInterval))
	}
	s.session = recorder.NewSession(opts.InputDevice, s.store, sessionOpts...)

	if opts.OutputDevice != nil {
		s.player = playback.NewPlayer(s.store, opts.OutputDevice, s.feedback.SetPlayingBack)
	}
	return s
}

func (s *Studio) Store() *artifact.Store {
	return s.store
}

func (s *Studio) Feedback() *feedback.Generator {
	return s.feedback
}

func (s *Studio) StartRecording(ctx context.Context) error {
	wasCapturing := s.session.IsCapturing()
	if err := s.session.Start(ctx); err != nil {
		log.Error().Err(err).Msg("cannot start recording")
		s.notifier.Notify(notify.New(notify.Error, "Recording failed", "Could not access microphone. Please check permissions."))
		return err
	}
	if !wasCapturing {
		s.notifier.Notify(notify.New(notify.Info, "Recording started", "Speak clearly into your microphone"))
	}
	return nil
}

// StopRecording finalizes the take, the artifact is now the current one in the store.
func (s *Studio) StopRecording() (models.AudioArtifact, bool) {
	recording, finalized := s.session.Stop()
	if finalized {
		s.notifier.Notify(notify.New(notify.Success, "Recording complete", fmt.Sprintf("Recorded %d seconds of audio", s.session.ElapsedSeconds())))
	}
	return recording, finalized
}

// ToggleRecording is the single record button.
func (s *Studio) ToggleRecording(ctx context.Context) error {
	if s.session.IsCapturing() {
		s.StopRecording()
		return nil
	}
	return s.StartRecording(ctx)
}

// ClearRecording drops the current sample, its handle stops resolving right away.
func (s *Studio) ClearRecording() {
	if s.player != nil {
		s.logErr(s.player.Stop(), "cannot stop playback")
	}
	s.store.Clear()
	s.session.ResetElapsed()
}

// ImportFile is the upload alternative to recording.
func (s *Studio) ImportFile(path string) (models.AudioArtifact, error) {
	imported, err := s.store.ImportFile(s.fs, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("cannot import audio file")
		if errors.Is(err, artifact.ErrUnsupportedAudio) {
			s.notifier.Notify(notify.New(notify.Error, "Invalid file type", "Please select an audio file (.mp3, .wav, .m4a, etc.)"))
		} else {
			s.notifier.Notify(notify.New(notify.Error, "Upload failed", err.Error()))
		}
		return models.AudioArtifact{}, err
	}
	s.notifier.Notify(notify.New(notify.Success, "Audio file selected", filepath.Base(path)))
	return imported, nil
}

func (s *Studio) PlayRecording() error {
	if s.player == nil {
		return ErrNoPlayback
	}
	current, ok := s.store.Current()
	if !ok {
		s.notifier.Notify(notify.New(notify.Error, "No audio provided", "Please either upload an audio file or record your voice"))
		return artifact.ErrUnknownHandle
	}
	if err := s.player.Play(current.Handle); err != nil {
		log.Error().Err(err).Msg("cannot play recording")
		s.notifier.Notify(notify.New(notify.Error, "Playback failed", err.Error()))
		return err
	}
	return nil
}

func (s *Studio) StopPlayback() error {
	if s.player == nil {
		return nil
	}
	return s.player.Stop()
}

// DownloadRecording writes voice-sample-<ms>.<ext> into the output directory.
func (s *Studio) DownloadRecording(now time.Time) (string, error) {
	current, ok := s.store.Current()
	if !ok {
		return "", artifact.ErrUnknownHandle
	}
	path, err := s.store.SaveToFile(s.fs, s.outDir, current.Handle, now)
	if err != nil {
		log.Error().Err(err).Msg("cannot download recording")
		s.notifier.Notify(notify.New(notify.Error, "Download failed", err.Error()))
		return "", err
	}
	return path, nil
}

// Submit sends the current artifact with text, the recording stays in place whatever happens.
func (s *Studio) Submit(ctx context.Context, text string) submission.Outcome {
	req := submission.Request{Text: text}
	if current, ok := s.store.Current(); ok {
		req.Artifact = &current
	}

	var outcome submission.Outcome
	if s.workflow == nil {
		outcome = submission.Outcome{Failure: &submission.Failure{Kind: submission.ErrValidation, Reason: "No service configured", UserFacing: true}}
	} else {
		outcome = s.workflow.Submit(ctx, req)
	}
	if outcome.OK() {
		s.mutex.Lock()
		s.lastResult = outcome.Success
		s.mutex.Unlock()
		s.notifier.Notify(notify.New(notify.Success, "Synthesis complete!", "Your text has been converted to speech"))
		return outcome
	}

	failure := outcome.Failure
	if !failure.UserFacing {
		return outcome
	}
	if errors.Is(failure.Kind, submission.ErrValidation) {
		s.notifier.Notify(notify.New(notify.Error, failure.Reason, validationHint(failure.Reason)))
	} else {
		s.notifier.Notify(notify.New(notify.Error, "Synthesis failed", failure.Reason))
	}
	return outcome
}

func validationHint(reason string) string {
	switch reason {
	case "No text provided":
		return "Please enter some text to synthesize"
	case "No audio provided":
		return "Please either upload an audio file or record your voice"
	case "No service configured":
		return "Set service.base_url to the voice-cloning service"
	}
	return ""
}

func (s *Studio) LastResult() (*submission.Result, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastResult, s.lastResult != nil
}

// DownloadResult fetches the synthesized audio of the last successful submission into the output directory.
func (s *Studio) DownloadResult(ctx context.Context) (path string, data []byte, contentType string, err error) {
	result, ok := s.LastResult()
	if !ok || result.Filename == "" {
		return "", nil, "", ErrNoResult
	}
	data, contentType, err = s.workflow.Client().DownloadResult(ctx, result.Filename)
	if err != nil {
		log.Error().Err(err).Str("filename", result.Filename).Msg("cannot download synthesized audio")
		s.notifier.Notify(notify.New(notify.Error, "Download failed", "Could not fetch the synthesized audio"))
		return "", nil, "", err
	}
	if err = s.fs.MkdirAll(s.outDir, 0o755); err != nil {
		return "", nil, "", fmt.Errorf("cannot create %s %w", s.outDir, err)
	}
	path = filepath.Join(s.outDir, filepath.Base(result.Filename))
	if err = afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", nil, "", fmt.Errorf("cannot write %s %w", path, err)
	}
	return path, data, contentType, nil
}

// PlayResult downloads (if needed) and plays the synthesized audio.
func (s *Studio) PlayResult(ctx context.Context) error {
	if s.player == nil {
		return ErrNoPlayback
	}
	_, data, contentType, err := s.DownloadResult(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "audio/wav"
	}
	if err = s.player.PlayBytes(data, contentType); err != nil {
		log.Error().Err(err).Msg("cannot play synthesized audio")
		s.notifier.Notify(notify.New(notify.Error, "Playback failed", err.Error()))
		return err
	}
	return nil
}

func (s *Studio) Snapshot() Snapshot {
	elapsed := s.session.ElapsedSeconds()
	capturing := s.session.IsCapturing()
	var startedAt *time.Time
	if capturing {
		started := s.session.StartedAt()
		startedAt = &started
	}
	return Snapshot{
		Capturing:      capturing,
		PlayingBack:    s.player != nil && s.player.IsPlaying(),
		Submitting:     s.workflow != nil && s.workflow.InFlight(),
		ElapsedSeconds: elapsed,
		Elapsed:        audio_utils.FormatElapsed(elapsed),
		StartedAt:      startedAt,
		HasRecording:   s.store.LiveHandles() > 0,
		Levels:         s.feedback.Levels(),
	}
}

// Close tears everything down: an in-progress take is discarded, playback stops, the handle is revoked
// and the feedback routine exits.
func (s *Studio) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	s.mutex.Unlock()

	s.session.Close()
	if s.player != nil {
		s.logErr(s.player.Stop(), "cannot stop playback")
	}
	s.store.Close()
	s.feedback.Close()
	log.Info().Int("revocations", s.store.Revocations()).Msg("studio closed")
}

func (s *Studio) logErr(err error, msg string) {
	if err != nil {
		log.Error().Err(err).Msg(msg)
	}
}
