package audioio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

const monitorPollInterval = 5 * time.Millisecond

// speakers ended up more complicated as it seems;
// this is because we have to:
//   - allow a preview to be stopped (the user presses pause)
//   - poll monitor the device if it's still playing, to flip the playing-back flag when it ends on its own
//   - refuse double-play, callers have to Stop first
//
// The state flow is:
//  1. currentPlayer == nil => nothing going on
//  2. Play grabs mutex => starting to play
//  3. Stop grabs mutex, pauses the device and waits until the monitor closed the player.
//  4. Before another Play, you either have to wait on currentDone, or call Stop().
//
// Invariant: There is at most one playerMonitorRoutine running at the same time.
type speakers struct {
	otoContext  *oto.Context
	sampleRate  int
	numChannels int

	currentPlayer *oto.Player
	currentDone   *sync.WaitGroup

	mutex    sync.Mutex // Protects currentPlayer, currentDone and stopFlag
	stopFlag bool       // Indicates if playback should be stopped early
}

// NewSpeakers you should **not** create more than one per process, oto only supports a single context.
func NewSpeakers(sampleRate int, numChannels int) (OutputDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatSignedInt16LE,
	}

	log.Info().Int("sample_rate", sampleRate).Int("num_channels", numChannels).Msg("setupOtoPlayer - will wait until ready")
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context %w", err)
	}
	<-readyChan // Wait for the audio hardware to be ready (about 200ms empirically)
	log.Info().Msg("setupOtoPlayer - context ready")

	return &speakers{
		otoContext:  otoCtx,
		sampleRate:  sampleRate,
		numChannels: numChannels,
	}, nil
}

func (s *speakers) Format() (int, int) {
	return s.sampleRate, s.numChannels
}

// Play plays the entire stream and returns a WaitGroup if a routine wants to block until done.
func (s *speakers) Play(audioOutput io.Reader) (*sync.WaitGroup, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.currentPlayer != nil {
		return nil, fmt.Errorf("currentPlayer isn't nil, you need to call Stop first")
	}

	done := &sync.WaitGroup{}
	done.Add(1)
	s.currentDone = done
	s.currentPlayer = s.otoContext.NewPlayer(audioOutput)
	s.currentPlayer.Play()

	// Invariant: There is at most one playerMonitorRoutine running at the same time.
	go s.playerMonitorRoutine(s.currentPlayer, done)

	return done, nil
}

// Stop blocks until the current playback (if any) is closed. Concurrent callers all wait for the same one.
func (s *speakers) Stop() error {
	s.mutex.Lock()
	if s.currentPlayer == nil {
		s.mutex.Unlock()
		log.Debug().Msg("currentPlayer is already stopped")
		return nil
	}

	if !s.stopFlag {
		log.Debug().Msg("currentPlayer is stopping ...")
		s.stopFlag = true
		s.currentPlayer.Pause()
	}
	untilStopped := s.currentDone // we copy it over as it becomes nil once the monitor finishes
	s.mutex.Unlock()

	untilStopped.Wait()
	return nil
}

func (s *speakers) playerMonitorRoutine(player *oto.Player, done *sync.WaitGroup) {
	log.Debug().Msg("playerMonitorRoutine start")
	// Signal that the current playback has finished and we ready for the next one
	defer done.Done()

	startTime := time.Now()
	ticker := time.NewTicker(monitorPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mutex.Lock()
		playing := player.IsPlaying()
		stop := s.stopFlag
		s.mutex.Unlock()

		if !playing || stop {
			break
		}
	}

	s.mutex.Lock()
	if err := player.Close(); err != nil {
		log.Error().Err(err).Msg("player.Close failed")
	}
	s.currentPlayer = nil
	s.currentDone = nil
	s.stopFlag = false
	s.mutex.Unlock()

	log.Debug().Dur("playback_duration", time.Since(startTime)).Msg("current playback done playerMonitorRoutine")
}
