package submission

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedForm struct {
	filename    string
	contentType string
	audio       []byte
	text        string
}

// mockService records every clone-voice call and answers with the given handler.
type mockService struct {
	server *httptest.Server
	calls  atomic.Int32

	mutex    sync.Mutex
	received []receivedForm
}

func newMockService(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *mockService {
	m := &mockService{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/clone-voice" {
			m.calls.Add(1)
			assert.Equal(t, http.MethodPost, r.Method)
			file, header, err := r.FormFile("audio")
			if !assert.NoError(t, err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			audio, err := io.ReadAll(file)
			assert.NoError(t, err)
			m.mutex.Lock()
			m.received = append(m.received, receivedForm{
				filename:    header.Filename,
				contentType: header.Header.Get("Content-Type"),
				audio:       audio,
				text:        r.FormValue("text"),
			})
			m.mutex.Unlock()
		}
		respond(w, r)
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockService) last() receivedForm {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.received[len(m.received)-1]
}

func jsonResponse(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func webmArtifact(data string) *models.AudioArtifact {
	return &models.AudioArtifact{Bytes: []byte(data), MimeType: "audio/webm;codecs=opus", Handle: "artifact://test"}
}

func TestSubmitSuccess(t *testing.T) {
	service := newMockService(t, jsonResponse(http.StatusOK, `{"status":"success","audio_url":"outputs/x.wav","message":"Voice cloning completed successfully","filename":"x.wav"}`))
	workflow := NewWorkflow(NewClient(service.server.URL, nil))

	outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("opus-bytes"), Text: "  Hello world  "})
	require.True(t, outcome.OK())
	require.Nil(t, outcome.Failure)
	assert.Equal(t, "success", outcome.Success.Status)
	assert.Equal(t, "outputs/x.wav", outcome.Success.AudioURL)
	assert.Equal(t, "x.wav", outcome.Success.Filename)
	assert.Equal(t, "Voice cloning completed successfully", outcome.Success.Message)
	assert.Equal(t, "x.wav", outcome.Success.Payload["filename"])

	require.EqualValues(t, 1, service.calls.Load())
	form := service.last()
	assert.Equal(t, "recording.webm", form.filename)
	assert.Equal(t, "audio/webm;codecs=opus", form.contentType)
	assert.Equal(t, []byte("opus-bytes"), form.audio)
	assert.Equal(t, "Hello world", form.text)
	assert.False(t, workflow.InFlight())
}

func TestSubmitWrapsPCMAsWav(t *testing.T) {
	service := newMockService(t, jsonResponse(http.StatusOK, `{"status":"success"}`))
	workflow := NewWorkflow(NewClient(service.server.URL+"/", nil))

	samples := []int{1, -1, 300, -300}
	pcm := &models.AudioArtifact{Bytes: audio_utils.IntSliceToTwoByteData(samples), MimeType: audio_utils.PCMMime(16000, 1)}
	outcome := workflow.Submit(context.Background(), Request{Artifact: pcm, Text: "hi"})
	require.True(t, outcome.OK())

	form := service.last()
	assert.Equal(t, "recording.wav", form.filename)
	assert.Equal(t, "audio/wav", form.contentType)
	decoded, err := audio_utils.DecodeFromWav(form.audio)
	require.NoError(t, err)
	assert.Equal(t, samples, decoded.Data)
}

func TestSubmitEmptyTextNeverHitsNetwork(t *testing.T) {
	service := newMockService(t, jsonResponse(http.StatusOK, `{}`))
	workflow := NewWorkflow(NewClient(service.server.URL, nil))

	for _, text := range []string{"", "   ", "\n\t"} {
		outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: text})
		require.NotNil(t, outcome.Failure)
		assert.ErrorIs(t, outcome.Failure.Kind, ErrValidation)
		assert.Equal(t, "No text provided", outcome.Failure.Reason)
		assert.True(t, outcome.Failure.UserFacing)
	}
	assert.Zero(t, service.calls.Load())
}

func TestSubmitMissingAudioNeverHitsNetwork(t *testing.T) {
	service := newMockService(t, jsonResponse(http.StatusOK, `{}`))
	workflow := NewWorkflow(NewClient(service.server.URL, nil))

	for _, candidate := range []*models.AudioArtifact{nil, {MimeType: "audio/webm"}} {
		outcome := workflow.Submit(context.Background(), Request{Artifact: candidate, Text: "hello"})
		require.NotNil(t, outcome.Failure)
		assert.ErrorIs(t, outcome.Failure.Kind, ErrValidation)
		assert.Equal(t, "No audio provided", outcome.Failure.Reason)
		assert.ErrorIs(t, outcome.Failure, ErrValidation)
		assert.EqualError(t, outcome.Failure, "No audio provided")
	}
	assert.Zero(t, service.calls.Load())
}

func TestSubmitTextTooLong(t *testing.T) {
	service := newMockService(t, jsonResponse(http.StatusOK, `{}`))
	workflow := NewWorkflow(NewClient(service.server.URL, nil), WithMaxTextLength(5))

	outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "123456"})
	require.NotNil(t, outcome.Failure)
	assert.ErrorIs(t, outcome.Failure.Kind, ErrValidation)

	// Runes, not bytes.
	outcome = workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "žluťo"})
	assert.True(t, outcome.OK())
	assert.EqualValues(t, 1, service.calls.Load())
}

func TestSubmitServerErrorReason(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message", http.StatusInternalServerError, `{"status":"error","message":"Voice cloning failed: model not loaded"}`, "Voice cloning failed: model not loaded"},
		{"detail", http.StatusUnprocessableEntity, `{"detail":"text field required"}`, "text field required"},
		{"error", http.StatusBadRequest, `{"error":"bad audio"}`, "bad audio"},
		{"message wins", http.StatusBadRequest, `{"error":"e","detail":"d","message":"m"}`, "m"},
		{"non-string detail", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","text"]}]}`, "server responded with status 422"},
		{"no json", http.StatusBadGateway, `<html>bad gateway</html>`, "server responded with status 502"},
		{"empty", http.StatusServiceUnavailable, ``, "server responded with status 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newMockService(t, jsonResponse(tt.status, tt.body))
			workflow := NewWorkflow(NewClient(service.server.URL, nil))

			outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
			require.NotNil(t, outcome.Failure)
			assert.Nil(t, outcome.Success)
			assert.ErrorIs(t, outcome.Failure.Kind, ErrServer)
			assert.Equal(t, tt.want, outcome.Failure.Reason)
			assert.True(t, outcome.Failure.UserFacing)
		})
	}
}

func TestSubmitMalformedSuccessBody(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2,3]`, `null`, `"success"`} {
		service := newMockService(t, jsonResponse(http.StatusOK, body))
		workflow := NewWorkflow(NewClient(service.server.URL, nil))

		outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
		require.NotNil(t, outcome.Failure, body)
		assert.ErrorIs(t, outcome.Failure.Kind, ErrMalformedResponse, body)
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	workflow := NewWorkflow(NewClient(baseURL, nil))
	outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
	require.NotNil(t, outcome.Failure)
	assert.ErrorIs(t, outcome.Failure.Kind, ErrTransport)
	assert.Equal(t, "Could not reach the voice-cloning service", outcome.Failure.Reason)
	assert.False(t, workflow.InFlight())
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	service := newMockService(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	workflow := NewWorkflow(NewClient(service.server.URL, nil), WithTimeout(20*time.Millisecond))

	outcome := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
	require.NotNil(t, outcome.Failure)
	assert.ErrorIs(t, outcome.Failure.Kind, ErrTimeout)
}

func TestConcurrentSubmitIsRejected(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	service := newMockService(t, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release
		jsonResponse(http.StatusOK, `{"status":"success"}`)(w, r)
	})
	workflow := NewWorkflow(NewClient(service.server.URL, nil))

	first := make(chan Outcome, 1)
	go func() {
		first <- workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
	}()
	<-entered
	assert.True(t, workflow.InFlight())

	second := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
	require.NotNil(t, second.Failure)
	assert.ErrorIs(t, second.Failure.Kind, ErrAlreadyInProgress)
	assert.False(t, second.Failure.UserFacing)

	close(release)
	outcome := <-first
	assert.True(t, outcome.OK())
	assert.EqualValues(t, 1, service.calls.Load())

	// The guard is released once the first one finished.
	assert.False(t, workflow.InFlight())
	third := workflow.Submit(context.Background(), Request{Artifact: webmArtifact("x"), Text: "hello"})
	assert.True(t, third.OK())
	assert.EqualValues(t, 2, service.calls.Load())
}

func TestDownloadResultAndHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			jsonResponse(http.StatusOK, `{"status":"healthy","service":"Voice Cloning API"}`)(w, r)
		case r.URL.Path == "/download-audio/cloned_voice_1.wav":
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = io.WriteString(w, "RIFF-bytes")
		case strings.HasPrefix(r.URL.Path, "/download-audio/"):
			jsonResponse(http.StatusNotFound, `{"status":"error","message":"Audio file not found"}`)(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	client := NewClient(server.URL, nil)

	require.NoError(t, client.Health(context.Background()))

	data, contentType, err := client.DownloadResult(context.Background(), "cloned_voice_1.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-bytes"), data)
	assert.Equal(t, "audio/wav", contentType)

	_, _, err = client.DownloadResult(context.Background(), "missing.wav")
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusNotFound, serverErr.StatusCode)
	assert.Equal(t, "Audio file not found", serverErr.Reason)
	assert.ErrorIs(t, err, ErrServer)

	_, _, err = client.DownloadResult(context.Background(), "../etc/passwd")
	require.Error(t, err)
}

func TestHealthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewClient(server.URL, nil).Health(context.Background())
	require.ErrorIs(t, err, ErrServer)
	assert.Contains(t, err.Error(), fmt.Sprintf("status %d", http.StatusServiceUnavailable))
}
