package transcriber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveNonEnglishAndMBC(t *testing.T) {
	assert.Equal(t, "Yeah, tell me. a bit about uh, written in 100 words.", removeNonEnglishAndMBC("MBC 뉴스 이덕영입니다. Yeah, tell me. a bit about uh, written  in 100 words.  MBC 뉴스"))
	assert.Equal(t, "plain text", removeNonEnglishAndMBC("plain text"))
}

func TestTranscribeArtifactAgainstWhisperAPI(t *testing.T) {
	var uploadedName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			uploadedName = header.Filename
			head := make([]byte, 4)
			_, _ = io.ReadFull(file, head)
			assert.Equal(t, "RIFF", string(head))
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"The quick brown fox. MBC 뉴스"}`)
	}))
	defer server.Close()

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	whisper := NewOpenAIWhisper(openai.NewClientWithConfig(config))

	recording := models.AudioArtifact{
		Bytes:    audio_utils.IntSliceToTwoByteData([]int{1, 2, 3, 4}),
		MimeType: audio_utils.PCMMime(16000, 1),
		Handle:   "artifact://sample",
	}
	transcript, err := TranscribeArtifact(context.Background(), whisper, recording, "The quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox.", transcript)
	assert.Equal(t, "this-file-does-not-exist-just-needs-extension.wav", uploadedName)
}

func TestTranscribeEmptyArtifact(t *testing.T) {
	_, err := TranscribeArtifact(context.Background(), NewOpenAIWhisper(openai.NewClient("unused")), models.AudioArtifact{}, "")
	require.Error(t, err)
}
