package transcriber

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

var nonEnglishRegex = regexp.MustCompile(`[^\x00-\x7F]+`)

type openAIWhisper struct {
	client *openai.Client
}

func NewOpenAIWhisper(client *openai.Client) Transcriber {
	return &openAIWhisper{
		client: client,
	}
}

// SendAudio uploads one complete voice sample. Whisper only looks at the extension of FilePath to pick the decoder.
func (o *openAIWhisper) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error) {
	startTime := time.Now()
	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   input,
		FilePath: fmt.Sprintf("this-file-does-not-exist-just-needs-extension.%s", fileExtension),
		// NOTE: Giving the model the expected words improves accuracy.
		// Whisper can take up to 244 tokens, if more are passed than only the last are used.
		Prompt: prompt,
	}

	log.Debug().Str("model", req.Model).Str("prompt", prompt).Msg("create transcription request")
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		err = fmt.Errorf("cannot create transcription %w", err)
		return
	}

	result = removeNonEnglishAndMBC(resp.Text)
	if result != resp.Text {
		log.Info().Str("original_text", resp.Text).Str("processed_text", result).Msg("transcription post-processing removed some text")
	}

	log.Debug().Str("transcription", result).Dur("time_elapsed", time.Since(startTime)).Msg("received transcription")
	return
}

// removeNonEnglishAndMBC removes non-English characters and the "MBC" string from the input text.
// Whisper likes to hallucinate those on silence, for example:
// MBC 뉴스 이덕영입니다. Yeah, tell me. a bit about uh, written  in 100 words.  MBC 뉴스 이덕영입니다.
func removeNonEnglishAndMBC(text string) string {
	text = nonEnglishRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "MBC", "")
	return strings.Join(strings.Fields(text), " ")
}
