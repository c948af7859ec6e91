package artifact

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// sniffLength is plenty for every audio magic number filetype knows.
const sniffLength = 262

var ErrUnsupportedAudio = errors.New("unsupported audio file")

// AllowedExtensions are the containers the cloning service accepts.
var AllowedExtensions = []string{"webm", "wav", "mp3", "ogg", "m4a"}

func IsAllowedExtension(extension string) bool {
	extension = strings.TrimPrefix(strings.ToLower(extension), ".")
	for _, allowed := range AllowedExtensions {
		if extension == allowed {
			return true
		}
	}
	return false
}

// ImportFile loads a pre-recorded sample and installs it in the store, the upload alternative to recording.
// Both the file name and the sniffed content have to be an accepted audio container.
func (s *Store) ImportFile(fs afero.Fs, path string) (models.AudioArtifact, error) {
	if !IsAllowedExtension(filepath.Ext(path)) {
		return models.AudioArtifact{}, errors.Wrapf(ErrUnsupportedAudio, "extension of %s, allowed are %v", path, AllowedExtensions)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return models.AudioArtifact{}, errors.Wrapf(err, "cannot read %s", path)
	}
	mimeType, err := SniffAudio(data)
	if err != nil {
		return models.AudioArtifact{}, errors.Wrapf(err, "cannot import %s", path)
	}

	artifact := models.AudioArtifact{
		Bytes:    data,
		MimeType: mimeType,
		Trace:    models.NewTrace("artifact.ImportFile"),
	}
	artifact = s.Set(artifact)
	log.Info().Str("path", path).Str("mime_type", mimeType).Int("byte_length", len(data)).Str("handle", string(artifact.Handle)).Msg("imported audio file")
	return artifact, nil
}

// SniffAudio returns the canonical MIME type of an accepted audio container.
func SniffAudio(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.Wrap(ErrUnsupportedAudio, "empty file")
	}
	head := data
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", errors.Wrap(ErrUnsupportedAudio, "unknown content")
	}
	// filetype files audio-only webm under video, like browsers do.
	if !filetype.IsAudio(head) && kind.MIME.Value != "video/webm" {
		return "", errors.Wrapf(ErrUnsupportedAudio, "content is %s", kind.MIME.Value)
	}
	mimeType := audio_utils.CanonicalMime(kind.MIME.Value)
	if !IsAllowedExtension(audio_utils.ExtensionFor(mimeType)) {
		return "", errors.Wrapf(ErrUnsupportedAudio, "content is %s", kind.MIME.Value)
	}
	return mimeType, nil
}

// DownloadName is voice-sample-<unix millis>.<ext>, raw PCM downloads are wav files.
func DownloadName(artifact models.AudioArtifact, now time.Time) string {
	extension := audio_utils.ExtensionFor(artifact.MimeType)
	if extension == "" || extension == "pcm" {
		extension = "wav"
	}
	return fmt.Sprintf("voice-sample-%d.%s", now.UnixMilli(), extension)
}

// Encoded returns the artifact bytes the way they leave the process: raw PCM is wrapped into WAV.
func Encoded(artifact models.AudioArtifact) (data []byte, mimeType string, err error) {
	if !audio_utils.IsPCM(artifact.MimeType) {
		return artifact.Bytes, artifact.MimeType, nil
	}
	data, err = audio_utils.ConvertPCMToWav(artifact.Bytes, artifact.MimeType)
	if err != nil {
		return nil, "", errors.Wrap(err, "cannot wrap pcm into wav")
	}
	return data, "audio/wav", nil
}

// SaveToFile is the download consumer, it dereferences the handle and writes the sample into dir.
func (s *Store) SaveToFile(fs afero.Fs, dir string, handle models.Handle, now time.Time) (path string, err error) {
	artifact, err := s.Resolve(handle)
	if err != nil {
		return "", errors.Wrapf(err, "cannot download %s", handle)
	}
	if artifact.IsEmpty() {
		return "", errors.Errorf("cannot download %s, the recording is empty", handle)
	}
	data, _, err := Encoded(artifact)
	if err != nil {
		return "", err
	}

	if err = fs.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "cannot create %s", dir)
	}
	path = filepath.Join(dir, DownloadName(artifact, now))
	if err = afero.WriteFile(fs, path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "cannot write %s", path)
	}
	log.Info().Str("path", path).Int("byte_length", len(data)).Msg("saved recording")
	return path, nil
}

// WriteTo streams the encoded artifact, used by the http download route.
func WriteTo(w io.Writer, artifact models.AudioArtifact) (int64, error) {
	data, _, err := Encoded(artifact)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), errors.WithStack(err)
}
