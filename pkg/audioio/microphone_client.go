// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/rs/zerolog/log"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

const MyDeviceInputChannels uint32 = 1
const MyDeviceSampleRate uint32 = 44100

type microphone struct{}

type microphoneStream struct {
	mimeType     string
	malgoContext *malgo.AllocatedContext
	device       *malgo.Device

	recordingStart time.Time

	mutex    sync.Mutex // Protects released
	released bool
}

func (s *microphoneStream) MimeType() string {
	return s.mimeType
}

// NewMicrophone returns the miniaudio backed capture device.
// Every Acquire gets its own malgo context, so a denied or broken attempt never poisons the next one.
func NewMicrophone() InputDevice {
	return &microphone{}
}

// Acquire mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (m *microphone) Acquire(ctx context.Context, constraints Constraints, onChunk func(chunk []byte)) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraints.SampleRate == 0 {
		constraints.SampleRate = MyDeviceSampleRate
	}
	if constraints.Channels == 0 {
		constraints.Channels = MyDeviceInputChannels
	}

	log.Info().Msg("malgo init context (miniaudio)")
	malgoContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.Replace("malgo devices: "+message, "\n", "", -1))
	})
	if err != nil {
		return nil, classifyDeviceError("cannot init malgo context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = constraints.Channels
	deviceConfig.SampleRate = constraints.SampleRate
	deviceConfig.Alsa.NoMMap = 1
	if constraints.EchoCancellation || constraints.NoiseSuppression {
		log.Debug().Bool("echo_cancellation", constraints.EchoCancellation).Bool("noise_suppression", constraints.NoiseSuppression).Msg("miniaudio has no capture DSP, recording the raw signal")
	}

	stream := &microphoneStream{
		mimeType:     audio_utils.PCMMime(constraints.SampleRate, constraints.Channels),
		malgoContext: malgoContext,
	}

	// Empirically, len(pInputSamples) is 480, so for sample rate 44100 it's triggered about every 10ms.
	// malgo re-uses the buffer, so we have to copy before handing it over.
	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if len(pInputSamples) == 0 {
			return
		}
		chunk := make([]byte, len(pInputSamples))
		copy(chunk, pInputSamples)
		onChunk(chunk)
	}

	stream.device, err = malgo.InitDevice(malgoContext.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		stream.freeContext()
		return nil, classifyDeviceError(fmt.Sprintf("cannot init malgo device with config %v", deviceConfig), err)
	}

	log.Info().Uint32("sample_rate", constraints.SampleRate).Uint32("channels", constraints.Channels).Msg("malgo START recording...")
	stream.recordingStart = time.Now()
	if err = stream.device.Start(); err != nil {
		stream.device.Uninit()
		stream.freeContext()
		return nil, classifyDeviceError("cannot start malgo device", err)
	}

	if err = ctx.Err(); err != nil {
		dbg(m.Release(stream))
		return nil, err
	}
	return stream, nil
}

func (m *microphone) Release(stream Stream) error {
	s, ok := stream.(*microphoneStream)
	if !ok {
		return fmt.Errorf("cannot release foreign stream %T", stream)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	log.Info().Dur("recording_duration", time.Since(s.recordingStart)).Msg("malgo STOP recording")
	dbg(s.device.Stop())
	s.device.Uninit()
	s.freeContext()
	return nil
}

func (s *microphoneStream) freeContext() {
	dbg(s.malgoContext.Uninit())
	s.malgoContext.Free()
}
