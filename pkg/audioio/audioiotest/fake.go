// Package audioiotest provides in-memory audioio devices for tests of the capture and playback consumers.
package audioiotest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/audioio"
)

type fakeStream struct {
	id       int
	mimeType string
	onChunk  func(chunk []byte)
	released bool
}

func (s *fakeStream) MimeType() string {
	return s.mimeType
}

// InputDevice hands out streams which only produce what the test Push-es.
type InputDevice struct {
	MimeType string
	// AcquireErr, when set, fails every Acquire.
	AcquireErr error

	mutex    sync.Mutex
	streams  []*fakeStream
	acquired int
	released int
}

func NewInputDevice() *InputDevice {
	return &InputDevice{MimeType: audio_utils.PCMMime(audioio.MyDeviceSampleRate, audioio.MyDeviceInputChannels)}
}

func (d *InputDevice) Acquire(ctx context.Context, constraints audioio.Constraints, onChunk func(chunk []byte)) (audioio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	stream := &fakeStream{id: len(d.streams), mimeType: d.MimeType, onChunk: onChunk}
	d.streams = append(d.streams, stream)
	d.acquired++
	return stream, nil
}

func (d *InputDevice) Release(stream audioio.Stream) error {
	s, ok := stream.(*fakeStream)
	if !ok {
		return errors.New("foreign stream")
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !s.released {
		s.released = true
		d.released++
	}
	return nil
}

// Push delivers a chunk on the latest stream the way a device callback would. Returns false when there is no live stream.
func (d *InputDevice) Push(chunk []byte) bool {
	d.mutex.Lock()
	if len(d.streams) == 0 || d.streams[len(d.streams)-1].released {
		d.mutex.Unlock()
		return false
	}
	onChunk := d.streams[len(d.streams)-1].onChunk
	d.mutex.Unlock()

	onChunk(chunk)
	return true
}

func (d *InputDevice) Acquired() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.acquired
}

func (d *InputDevice) Released() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.released
}

// LiveStreams is the number of acquired but not yet released streams.
func (d *InputDevice) LiveStreams() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.acquired - d.released
}

// OutputDevice swallows the played bytes. Playback lasts until Finish or Stop is called.
type OutputDevice struct {
	SampleRate  int
	NumChannels int

	mutex   sync.Mutex
	played  [][]byte
	current *sync.WaitGroup
}

func NewOutputDevice() *OutputDevice {
	return &OutputDevice{SampleRate: int(audioio.MyDeviceSampleRate), NumChannels: int(audioio.MyDeviceInputChannels)}
}

func (d *OutputDevice) Format() (int, int) {
	return d.SampleRate, d.NumChannels
}

func (d *OutputDevice) Play(audioOutput io.Reader) (*sync.WaitGroup, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.current != nil {
		return nil, errors.New("already playing")
	}
	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, audioOutput); err != nil {
		return nil, err
	}
	d.played = append(d.played, buffer.Bytes())
	d.current = &sync.WaitGroup{}
	d.current.Add(1)
	return d.current, nil
}

func (d *OutputDevice) Stop() error {
	d.Finish()
	return nil
}

// Finish simulates the playback reaching its end.
func (d *OutputDevice) Finish() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.current != nil {
		d.current.Done()
		d.current = nil
	}
}

func (d *OutputDevice) IsPlaying() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.current != nil
}

func (d *OutputDevice) Played() [][]byte {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([][]byte(nil), d.played...)
}
