package audioio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/rs/zerolog/log"
)

// PlayEncoded decodes whatever container we can (raw pcm, wav, mp3, flac), converts it to the device format
// and starts the playback. Returns the device WaitGroup, nil result means there was nothing to play.
func PlayEncoded(outputDevice OutputDevice, data []byte, mimeType string) (*sync.WaitGroup, error) {
	startTime := time.Now()
	intBuffer, err := audio_utils.DecodeToIntBuffer(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s for playback %w", mimeType, err)
	}
	if len(intBuffer.Data) == 0 {
		log.Debug().Str("mime_type", mimeType).Msg("nothing to play, decoded zero samples")
		return nil, nil
	}

	sampleRate, numChannels := outputDevice.Format()
	intBuffer = audio_utils.ConvertIntBuffer(intBuffer, sampleRate, numChannels)
	pcm := audio_utils.IntSliceToTwoByteData(intBuffer.Data)
	log.Debug().Str("mime_type", mimeType).Int("input_byte_length", len(data)).Int("pcm_byte_length", len(pcm)).Dur("decode_duration", time.Since(startTime)).Msg("decoded for playback")

	waitTilDone, err := outputDevice.Play(bytes.NewReader(pcm)) // Sub-millisecond time
	if err != nil {
		return nil, fmt.Errorf("cannot play decoded audio %w", err)
	}
	return waitTilDone, nil
}
