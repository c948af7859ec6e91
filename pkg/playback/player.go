package playback

import (
	"fmt"
	"sync"

	"github.com/petrzlen/voiceclone-golang/pkg/audioio"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

// Resolver dereferences artifact handles, the artifact store in production.
type Resolver interface {
	Resolve(handle models.Handle) (models.AudioArtifact, error)
}

// Player previews the recording (or the synthesized result) on the speakers and
// reports the playing-back condition to whoever animates the feedback bars.
//
// Invariant: onPlayingChanged sees strictly alternating true / false calls.
type Player struct {
	resolver         Resolver
	outputDevice     audioio.OutputDevice
	onPlayingChanged func(playing bool)

	mutex   sync.Mutex // Protects playing and current
	playing bool
	current uint64
}

func NewPlayer(resolver Resolver, outputDevice audioio.OutputDevice, onPlayingChanged func(playing bool)) *Player {
	if onPlayingChanged == nil {
		onPlayingChanged = func(bool) {}
	}
	return &Player{
		resolver:         resolver,
		outputDevice:     outputDevice,
		onPlayingChanged: onPlayingChanged,
	}
}

// Play stops whatever is playing and starts the artifact behind handle.
func (p *Player) Play(handle models.Handle) error {
	artifact, err := p.resolver.Resolve(handle)
	if err != nil {
		return fmt.Errorf("cannot play %s %w", handle, err)
	}
	return p.PlayBytes(artifact.Bytes, artifact.MimeType)
}

// PlayBytes is used for audio which does not live in the store, like a downloaded synthesis result.
func (p *Player) PlayBytes(data []byte, mimeType string) error {
	if err := p.Stop(); err != nil {
		return err
	}

	waitTilDone, err := audioio.PlayEncoded(p.outputDevice, data, mimeType)
	if err != nil {
		return err
	}
	if waitTilDone == nil {
		return nil
	}

	p.mutex.Lock()
	p.current++
	id := p.current
	p.setPlayingLocked(true)
	p.mutex.Unlock()

	go p.waitRoutine(id, waitTilDone)
	return nil
}

// Stop pauses the preview, it is fine to call when nothing plays.
func (p *Player) Stop() error {
	if err := p.outputDevice.Stop(); err != nil {
		return fmt.Errorf("cannot stop playback %w", err)
	}
	p.mutex.Lock()
	p.current++
	p.setPlayingLocked(false)
	p.mutex.Unlock()
	return nil
}

func (p *Player) IsPlaying() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.playing
}

func (p *Player) waitRoutine(id uint64, waitTilDone *sync.WaitGroup) {
	waitTilDone.Wait()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.current != id {
		// Stopped or replaced meanwhile, the newer owner already reported the state.
		return
	}
	log.Debug().Msg("playback reached the end")
	p.setPlayingLocked(false)
}

func (p *Player) setPlayingLocked(playing bool) {
	if p.playing == playing {
		return
	}
	p.playing = playing
	p.onPlayingChanged(playing)
}
