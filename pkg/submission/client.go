package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	cloneVoicePath    = "/clone-voice"
	downloadAudioPath = "/download-audio/"
	healthPath        = "/health"

	// Responses are small JSON documents, anything bigger is not what we expect.
	maxJSONResponseBytes = 1 << 20
)

var (
	ErrTransport         = errors.New("cannot reach the voice-cloning service")
	ErrServer            = errors.New("voice-cloning service returned an error")
	ErrMalformedResponse = errors.New("voice-cloning service returned a malformed response")
)

// ServerError carries the non-2xx status and the reason extracted from the body.
type ServerError struct {
	StatusCode int
	Reason     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", ErrServer.Error(), e.Reason)
}

func (e *ServerError) Unwrap() error {
	return ErrServer
}

// Result is the decoded success body. Payload keeps everything, the typed fields are filled when present.
type Result struct {
	Payload  map[string]any
	Status   string
	AudioURL string
	Message  string
	Filename string
}

// Client talks to the voice-cloning HTTP service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient with a nil httpClient uses one without timeout, the workflow decides about deadlines.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// CloneVoice sends exactly one multipart POST with the "audio" file and the "text" field.
func (c *Client) CloneVoice(ctx context.Context, audio []byte, filename string, mimeType string, text string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "audio", "filename": filename}))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create audio form part")
	}
	if _, err = part.Write(audio); err != nil {
		return nil, errors.Wrap(err, "cannot write audio form part")
	}
	if err = writer.WriteField("text", text); err != nil {
		return nil, errors.Wrap(err, "cannot write text form field")
	}
	if err = writer.Close(); err != nil {
		return nil, errors.Wrap(err, "cannot close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cloneVoicePath, &body)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create clone-voice request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("url", req.URL.String()).Str("filename", filename).Str("mime_type", mimeType).Int("audio_byte_length", len(audio)).Int("text_length", len(text)).Msg("sending clone-voice request")
	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer func() { dbg(resp.Body.Close()) }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	log.Debug().Int("status_code", resp.StatusCode).Int("response_byte_length", len(respBody)).Dur("time_elapsed", time.Since(startTime)).Msg("received clone-voice response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Reason: failureReason(resp.StatusCode, respBody)}
	}

	var payload map[string]any
	if err = json.Unmarshal(respBody, &payload); err != nil || payload == nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "status %d with %d bytes of non-object body", resp.StatusCode, len(respBody))
	}
	return newResult(payload), nil
}

// DownloadResult fetches a synthesized file by the filename the clone-voice call returned.
func (c *Client) DownloadResult(ctx context.Context, filename string) (data []byte, contentType string, err error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return nil, "", errors.Errorf("invalid result filename %q", filename)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+downloadAudioPath+url.PathEscape(filename), nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "cannot create download request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", transportError(ctx, err)
	}
	defer func() { dbg(resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
		return nil, "", &ServerError{StatusCode: resp.StatusCode, Reason: failureReason(resp.StatusCode, body)}
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", transportError(ctx, err)
	}
	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}
	log.Info().Str("filename", filename).Int("byte_length", len(data)).Str("content_type", contentType).Msg("downloaded synthesized audio")
	return data, contentType, nil
}

// Health returns nil when the service answers its health check with 2xx.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return errors.Wrap(err, "cannot create health request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer func() { dbg(resp.Body.Close()) }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
		return &ServerError{StatusCode: resp.StatusCode, Reason: failureReason(resp.StatusCode, body)}
	}
	return nil
}

// transportError keeps the context error reachable for errors.Is, so timeouts stay recognizable.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, err.Error())
	}
	return errors.Wrap(ErrTransport, err.Error())
}

// failureReason prefers the service's own explanation: "message", then "detail", then "error".
func failureReason(statusCode int, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "detail", "error"} {
			if reason, ok := payload[key].(string); ok && strings.TrimSpace(reason) != "" {
				return reason
			}
		}
	}
	return fmt.Sprintf("server responded with status %d", statusCode)
}

func newResult(payload map[string]any) *Result {
	str := func(key string) string {
		value, _ := payload[key].(string)
		return value
	}
	return &Result{
		Payload:  payload,
		Status:   str("status"),
		AudioURL: str("audio_url"),
		Message:  str("message"),
		Filename: str("filename"),
	}
}
