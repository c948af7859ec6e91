package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/audioio"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("recording session is closed")

type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sink takes ownership of every finalized recording and returns it with its handle filled in.
type Sink interface {
	Set(artifact models.AudioArtifact) models.AudioArtifact
}

type eventKind int

const (
	eventStart eventKind = iota
	eventChunk
	eventTick
	eventStop
	eventClear
	eventClose
)

type event struct {
	kind  eventKind
	gen   *generation
	chunk []byte

	ctx        context.Context
	startReply chan error
	stopReply  chan stopResult
}

type stopResult struct {
	artifact  models.AudioArtifact
	finalized bool
}

// generation is one Recording period. Device callbacks and the ticker are bound to it,
// so anything they enqueue after the period ended is recognized as stale.
type generation struct {
	id      uint64
	stopped chan struct{}
}

// Session records one microphone take at a time.
//
// All state transitions happen on sessionRoutine, which drains a single event queue:
// the public methods, device callbacks and the elapsed ticker only enqueue.
// Chunks are therefore appended exactly in the order the device delivered them.
//
// Invariant: chunks is empty unless state is Recording or Finalizing.
// Invariant: at most one stream is acquired, and none is while Idle.
type Session struct {
	device       audioio.InputDevice
	sink         Sink
	constraints  audioio.Constraints
	tickInterval time.Duration

	onCapturingChanged func(capturing bool)

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// Owned by sessionRoutine.
	stream  audioio.Stream
	chunks  [][]byte
	current *generation
	nextGen uint64

	mutex          sync.RWMutex // Protects the observable mirror below
	state          State
	elapsedSeconds int
	startedAt      time.Time
}

type Option func(*Session)

// WithTickInterval changes how often ElapsedSeconds increments, one second by default.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Session) {
		s.tickInterval = interval
	}
}

func WithConstraints(constraints audioio.Constraints) Option {
	return func(s *Session) {
		s.constraints = constraints
	}
}

// WithCapturingObserver is called on the session routine whenever IsCapturing flips.
// It must not call back into the Session.
func WithCapturingObserver(onCapturingChanged func(capturing bool)) Option {
	return func(s *Session) {
		s.onCapturingChanged = onCapturingChanged
	}
}

func NewSession(device audioio.InputDevice, sink Sink, opts ...Option) *Session {
	s := &Session{
		device:       device,
		sink:         sink,
		constraints:  audioio.DefaultConstraints(),
		tickInterval: time.Second,
		events:       make(chan event, 256),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sessionRoutine()
	return s
}

// Start acquires the microphone and begins a new take. It is a no-op while already Recording.
// On acquisition failure the session stays Idle and the device error is returned.
func (s *Session) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.enqueue(event{kind: eventStart, ctx: ctx, startReply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Stop finalizes the current take and hands it to the sink. It never fails, stopping an Idle session does nothing
// and returns finalized=false.
func (s *Session) Stop() (artifact models.AudioArtifact, finalized bool) {
	reply := make(chan stopResult, 1)
	if !s.enqueue(event{kind: eventStop, stopReply: reply}) {
		return
	}
	select {
	case result := <-reply:
		return result.artifact, result.finalized
	case <-s.done:
		return
	}
}

// ResetElapsed zeroes the elapsed counter of a finished take, used when the recording is cleared.
func (s *Session) ResetElapsed() {
	s.enqueue(event{kind: eventClear})
}

// Close abandons an in-progress take (no artifact), releases the stream and terminates the session routine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.events <- event{kind: eventClose}
	})
	<-s.done
}

func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

func (s *Session) IsCapturing() bool {
	return s.State() == Recording
}

func (s *Session) ElapsedSeconds() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.elapsedSeconds
}

func (s *Session) StartedAt() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.startedAt
}

func (s *Session) enqueue(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// enqueueFromGeneration never blocks a device callback past the end of its generation.
func (s *Session) enqueueFromGeneration(gen *generation, ev event) {
	select {
	case s.events <- ev:
	case <-gen.stopped:
	}
}

func (s *Session) sessionRoutine() {
	log.Debug().Msg("sessionRoutine started")
	defer close(s.done)

	for ev := range s.events {
		switch ev.kind {
		case eventStart:
			ev.startReply <- s.handleStart(ev.ctx)
		case eventChunk:
			s.handleChunk(ev.gen, ev.chunk)
		case eventTick:
			s.handleTick(ev.gen)
		case eventStop:
			artifact, finalized := s.handleStop()
			ev.stopReply <- stopResult{artifact: artifact, finalized: finalized}
		case eventClear:
			if s.current == nil {
				s.setElapsed(0)
			}
		case eventClose:
			s.handleClose()
			log.Debug().Msg("sessionRoutine finished")
			return
		}
	}
}

func (s *Session) handleStart(ctx context.Context) error {
	if s.current != nil {
		log.Debug().Msg("recording already in progress, ignoring start")
		return nil
	}

	s.nextGen++
	gen := &generation{id: s.nextGen, stopped: make(chan struct{})}
	onChunk := func(chunk []byte) {
		s.enqueueFromGeneration(gen, event{kind: eventChunk, gen: gen, chunk: chunk})
	}

	stream, err := s.device.Acquire(ctx, s.constraints, onChunk)
	if err != nil {
		close(gen.stopped)
		log.Error().Err(err).Msg("cannot acquire microphone, staying idle")
		return fmt.Errorf("cannot start recording %w", err)
	}

	s.stream = stream
	s.current = gen
	s.chunks = nil
	startedAt := time.Now()
	s.mutex.Lock()
	s.state = Recording
	s.elapsedSeconds = 0
	s.startedAt = startedAt
	s.mutex.Unlock()

	go s.tickerRoutine(gen)

	log.Info().Uint64("generation", gen.id).Str("mime_type", stream.MimeType()).Msg("recording started")
	s.notifyCapturing(true)
	return nil
}

func (s *Session) handleChunk(gen *generation, chunk []byte) {
	if gen != s.current {
		log.Trace().Int("chunk_length", len(chunk)).Msg("dropping chunk of a finished recording")
		return
	}
	if len(chunk) == 0 {
		return
	}
	s.chunks = append(s.chunks, chunk)
}

func (s *Session) handleTick(gen *generation) {
	if gen != s.current {
		return
	}
	s.mutex.Lock()
	s.elapsedSeconds++
	s.mutex.Unlock()
}

func (s *Session) handleStop() (artifact models.AudioArtifact, finalized bool) {
	if s.current == nil {
		log.Debug().Msg("no recording in progress, ignoring stop")
		return
	}

	s.setState(Finalizing)
	s.notifyCapturing(false)
	mimeType := s.endGeneration()

	var buffer bytes.Buffer
	for _, chunk := range s.chunks {
		buffer.Write(chunk)
	}
	data := buffer.Bytes()
	artifact = models.AudioArtifact{
		Bytes:    data,
		MimeType: mimeType,
		Length:   audio_utils.PCMDuration(mimeType, len(data)),
		Trace:    models.NewTrace("recorder.Session"),
	}
	artifact.Trace.ProcessedAt = time.Now()
	artifact.Trace.Processor = "recorder.Session.Stop"
	artifact = s.sink.Set(artifact)

	log.Info().Int("chunk_count", len(s.chunks)).Int("byte_length", len(data)).Int("elapsed_seconds", s.ElapsedSeconds()).Str("handle", string(artifact.Handle)).Msg("recording finalized")
	s.chunks = nil
	s.setState(Idle)
	return artifact, true
}

func (s *Session) handleClose() {
	if s.current == nil {
		return
	}
	log.Info().Int("chunk_count", len(s.chunks)).Msg("closing session with a recording in progress, discarding it")
	s.notifyCapturing(false)
	s.endGeneration()
	s.chunks = nil
	s.setState(Idle)
}

// endGeneration stops the ticker and the device, returning the MIME type of the released stream.
// stopped is closed BEFORE Release, since the device may wait for a callback blocked on the queue.
func (s *Session) endGeneration() string {
	close(s.current.stopped)
	s.current = nil

	mimeType := s.stream.MimeType()
	if err := s.device.Release(s.stream); err != nil {
		log.Error().Err(err).Msg("cannot release microphone stream")
	}
	s.stream = nil
	return mimeType
}

func (s *Session) tickerRoutine(gen *generation) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gen.stopped:
			return
		case <-ticker.C:
			s.enqueueFromGeneration(gen, event{kind: eventTick, gen: gen})
		}
	}
}

func (s *Session) setState(state State) {
	s.mutex.Lock()
	s.state = state
	s.mutex.Unlock()
}

func (s *Session) setElapsed(seconds int) {
	s.mutex.Lock()
	s.elapsedSeconds = seconds
	s.mutex.Unlock()
}

func (s *Session) notifyCapturing(capturing bool) {
	if s.onCapturingChanged != nil {
		s.onCapturingChanged(capturing)
	}
}
