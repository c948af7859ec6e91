package audioio

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no usable audio input device")
)

// Constraints are what we ask from the platform; backends without DSP treat the booleans as hints.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       uint32
	Channels         uint32
}

func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       MyDeviceSampleRate,
		Channels:         MyDeviceInputChannels,
	}
}

// Stream is one acquired capture. Only the owner which acquired it may release it.
type Stream interface {
	// MimeType declares the container of the pushed chunks.
	MimeType() string
}

// InputDevice
// Acquire may block on a platform permission prompt. Chunks are pushed to onChunk in capture order,
// possibly from a foreign (audio) thread, until Release returns.
// Release stops all underlying tracks and is idempotent.
type InputDevice interface {
	Acquire(ctx context.Context, constraints Constraints, onChunk func(chunk []byte)) (Stream, error)
	Release(stream Stream) error
}

// OutputDevice plays S16LE interleaved samples in its own Format.
// At most one playback runs at a time, Play while another plays is an error.
type OutputDevice interface {
	Play(audioOutput io.Reader) (*sync.WaitGroup, error)
	Stop() error
	Format() (sampleRate int, numChannels int)
}
