package submission

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/petrzlen/voiceclone-golang/pkg/artifact"
	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultMaxTextLength = 5000

var (
	ErrValidation        = errors.New("submission request is invalid")
	ErrAlreadyInProgress = errors.New("a submission is already in progress")
	ErrTimeout           = errors.New("submission timed out")
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

// Request is what the user submits. A nil Artifact means nothing was recorded or uploaded.
type Request struct {
	Artifact *models.AudioArtifact
	Text     string
}

// Failure Kind is one of the sentinel errors of this package, Reason is fit for display.
// UserFacing is false for outcomes nobody should be bothered with (a double click).
type Failure struct {
	Kind       error
	Reason     string
	UserFacing bool
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

// Unwrap exposes Kind, so errors.Is(failure, ErrValidation) works.
func (f *Failure) Unwrap() error {
	return f.Kind
}

// Outcome holds exactly one of Success or Failure.
type Outcome struct {
	Success *Result
	Failure *Failure
}

func (o Outcome) OK() bool {
	return o.Success != nil
}

func succeeded(result *Result) Outcome {
	return Outcome{Success: result}
}

func failed(kind error, reason string, userFacing bool, err error) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Reason: reason, UserFacing: userFacing, Err: err}}
}

// Workflow validates, guards and performs one clone-voice call per Submit.
//
// Invariant: at most one request is on the wire, concurrent Submits resolve immediately with ErrAlreadyInProgress.
// The workflow never touches the session or the store, it only reads the borrowed artifact.
type Workflow struct {
	client        *Client
	maxTextLength int
	timeout       time.Duration

	inFlight atomic.Bool
}

type Option func(*Workflow)

// WithTimeout bounds every Submit, zero means no bound.
func WithTimeout(timeout time.Duration) Option {
	return func(w *Workflow) {
		w.timeout = timeout
	}
}

func WithMaxTextLength(maxTextLength int) Option {
	return func(w *Workflow) {
		w.maxTextLength = maxTextLength
	}
}

func NewWorkflow(client *Client, opts ...Option) *Workflow {
	w := &Workflow{client: client, maxTextLength: DefaultMaxTextLength}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) Client() *Client {
	return w.client
}

func (w *Workflow) InFlight() bool {
	return w.inFlight.Load()
}

// Validate runs the checks Submit does before touching the network.
func (w *Workflow) Validate(req Request) (text string, failure *Failure) {
	if req.Artifact == nil || req.Artifact.IsEmpty() {
		return "", &Failure{Kind: ErrValidation, Reason: "No audio provided", UserFacing: true}
	}
	text = strings.TrimSpace(req.Text)
	if text == "" {
		return "", &Failure{Kind: ErrValidation, Reason: "No text provided", UserFacing: true}
	}
	if w.maxTextLength > 0 && utf8.RuneCountInString(text) > w.maxTextLength {
		return "", &Failure{Kind: ErrValidation, Reason: fmt.Sprintf("Text is longer than %d characters", w.maxTextLength), UserFacing: true}
	}
	return text, nil
}

func (w *Workflow) Submit(ctx context.Context, req Request) Outcome {
	text, failure := w.Validate(req)
	if failure != nil {
		log.Info().Str("reason", failure.Reason).Msg("submission rejected before sending")
		return Outcome{Failure: failure}
	}

	if !w.inFlight.CompareAndSwap(false, true) {
		log.Debug().Msg("submission already in flight, ignoring")
		return failed(ErrAlreadyInProgress, "A submission is already in progress", false, nil)
	}
	defer w.inFlight.Store(false)

	data, mimeType, err := artifact.Encoded(*req.Artifact)
	if err != nil {
		return failed(ErrValidation, "The recording could not be encoded", true, err)
	}
	extension := audio_utils.ExtensionFor(mimeType)
	if extension == "" {
		extension = "webm"
	}
	filename := "recording." + extension

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	startTime := time.Now()
	result, err := w.client.CloneVoice(ctx, data, filename, mimeType, text)
	if err != nil {
		outcome := classify(err)
		log.Error().Err(err).Str("reason", outcome.Failure.Reason).Dur("time_elapsed", time.Since(startTime)).Msg("submission failed")
		return outcome
	}
	log.Info().Str("status", result.Status).Str("filename", result.Filename).Dur("time_elapsed", time.Since(startTime)).Msg("submission succeeded")
	return succeeded(result)
}

func classify(err error) Outcome {
	var serverErr *ServerError
	switch {
	case errors.As(err, &serverErr):
		return failed(ErrServer, serverErr.Reason, true, err)
	case errors.Is(err, context.DeadlineExceeded):
		return failed(ErrTimeout, "The voice-cloning service did not answer in time", true, err)
	case errors.Is(err, context.Canceled):
		return failed(ErrTimeout, "The submission was cancelled", true, err)
	case errors.Is(err, ErrMalformedResponse):
		return failed(ErrMalformedResponse, "The voice-cloning service sent an unreadable response", true, err)
	}
	return failed(ErrTransport, "Could not reach the voice-cloning service", true, err)
}
