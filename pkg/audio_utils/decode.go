package audio_utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// ErrUnsupportedPlayback is returned for containers we cannot decode locally (webm, ogg, m4a).
// Those are still fine to upload, the service decodes them.
var ErrUnsupportedPlayback = errors.New("cannot decode this container for local playback")

// DecodeToIntBuffer turns an artifact into 16-bit interleaved samples for the speakers.
func DecodeToIntBuffer(data []byte, mimeType string) (*audio.IntBuffer, error) {
	if format, ok := ParsePCMMime(mimeType); ok {
		return &audio.IntBuffer{
			Data:           TwoByteDataToIntSlice(data),
			Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: format.NumChannels},
			SourceBitDepth: 16,
		}, nil
	}

	switch ExtensionFor(mimeType) {
	case "wav":
		return DecodeFromWav(data)
	case "mp3":
		return DecodeFromMp3(data)
	case "flac":
		return DecodeFromFlac(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlayback, mimeType)
}

func DecodeFromWav(data []byte) (*audio.IntBuffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("cannot decode wav, invalid file of %d bytes", len(data))
	}
	intBuffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("cannot read wav pcm buffer %w", err)
	}
	rescaleTo16Bit(intBuffer.Data, int(decoder.BitDepth))
	intBuffer.SourceBitDepth = 16
	return intBuffer, nil
}

// DecodeFromMp3 relies on go-mp3 always producing 16-bit little-endian stereo.
func DecodeFromMp3(data []byte) (*audio.IntBuffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot init mp3 decoder %w", err)
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode mp3 %w", err)
	}
	return &audio.IntBuffer{
		Data:           TwoByteDataToIntSlice(pcm),
		Format:         &audio.Format{SampleRate: decoder.SampleRate(), NumChannels: 2},
		SourceBitDepth: 16,
	}, nil
}

func DecodeFromFlac(data []byte) (*audio.IntBuffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot init flac decoder %w", err)
	}
	defer func() { dbg(stream.Close()) }()

	numChannels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)
	var intData []int
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cannot parse flac frame %w", err)
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		// Interleave the per-channel subframes.
		for i := 0; i < len(frame.Subframes[0].Samples); i++ {
			for _, subframe := range frame.Subframes {
				intData = append(intData, int(subframe.Samples[i]))
			}
		}
	}
	rescaleTo16Bit(intData, bitDepth)
	return &audio.IntBuffer{
		Data:           intData,
		Format:         &audio.Format{SampleRate: int(stream.Info.SampleRate), NumChannels: numChannels},
		SourceBitDepth: 16,
	}, nil
}

func rescaleTo16Bit(intData []int, bitDepth int) {
	switch {
	case bitDepth == 8:
		// 8-bit wav is unsigned
		for i, v := range intData {
			intData[i] = (v - 128) << 8
		}
	case bitDepth > 16:
		shift := uint(bitDepth - 16)
		for i, v := range intData {
			intData[i] = v >> shift
		}
	}
}

// ConvertIntBuffer re-mixes channels and linearly resamples, good enough for previews on the speakers.
func ConvertIntBuffer(input *audio.IntBuffer, sampleRate int, numChannels int) *audio.IntBuffer {
	inChannels := input.Format.NumChannels
	inRate := input.Format.SampleRate
	if inChannels <= 0 || inRate <= 0 || (inChannels == numChannels && inRate == sampleRate) {
		return input
	}

	frames := len(input.Data) / inChannels
	mono := make([]int, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < inChannels; c++ {
			sum += input.Data[f*inChannels+c]
		}
		mono[f] = sum / inChannels
	}

	outFrames := frames
	if inRate != sampleRate && frames > 0 {
		outFrames = int(int64(frames) * int64(sampleRate) / int64(inRate))
	}
	out := make([]int, outFrames*numChannels)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * float64(inRate) / float64(sampleRate)
		idx := int(pos)
		value := mono[min(idx, frames-1)]
		if idx+1 < frames {
			frac := pos - float64(idx)
			value = int(float64(mono[idx])*(1-frac) + float64(mono[idx+1])*frac)
		}
		for c := 0; c < numChannels; c++ {
			out[f*numChannels+c] = value
		}
	}

	return &audio.IntBuffer{
		Data:           out,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: numChannels},
		SourceBitDepth: input.SourceBitDepth,
	}
}
