package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/artifact"
	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

// TranscribeArtifact tells what the recognizer heard in a voice sample, a cheap check that the sample is usable.
// Raw captures are wrapped into wav first, same as for the cloning service.
func TranscribeArtifact(ctx context.Context, transcriber Transcriber, recording models.AudioArtifact, prompt string) (string, error) {
	if recording.IsEmpty() {
		return "", fmt.Errorf("cannot transcribe an empty recording")
	}
	data, mimeType, err := artifact.Encoded(recording)
	if err != nil {
		return "", err
	}
	extension := audio_utils.ExtensionFor(mimeType)
	if extension == "" {
		extension = "webm"
	}

	startTime := time.Now()
	transcript, err := transcriber.SendAudio(ctx, bytes.NewReader(data), extension, prompt)
	if err != nil {
		return "", err
	}
	recording.Trace.ProcessedAt = time.Now()
	recording.Trace.Processor = "transcribe_open_ai_whisper"
	recording.Trace.Log()
	log.Info().Str("transcript", transcript).Str("handle", string(recording.Handle)).Dur("time_elapsed", time.Since(startTime)).Msg("transcribed voice sample")
	return transcript, nil
}
