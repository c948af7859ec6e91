package audio_utils

import (
	"mime"
	"strconv"
	"strings"
	"time"
)

// PCMMimeType is raw interleaved signed 16-bit little-endian samples, what malgo hands us with FormatS16.
const PCMMimeType = "audio/pcm"

// PCMFormat describes raw samples, parsed from the "rate" and "channels" MIME parameters.
type PCMFormat struct {
	SampleRate  int
	NumChannels int
}

// PCMMime renders e.g. "audio/pcm; channels=1; rate=44100".
func PCMMime(sampleRate uint32, numChannels uint32) string {
	return mime.FormatMediaType(PCMMimeType, map[string]string{
		"rate":     strconv.FormatUint(uint64(sampleRate), 10),
		"channels": strconv.FormatUint(uint64(numChannels), 10),
	})
}

// ParsePCMMime returns false for anything which is not raw PCM with a sane rate.
func ParsePCMMime(mimeType string) (format PCMFormat, ok bool) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil || mediaType != PCMMimeType {
		return
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return
	}
	channels := 1
	if raw, found := params["channels"]; found {
		channels, err = strconv.Atoi(raw)
		if err != nil || channels <= 0 {
			return
		}
	}
	return PCMFormat{SampleRate: rate, NumChannels: channels}, true
}

func IsPCM(mimeType string) bool {
	_, ok := ParsePCMMime(mimeType)
	return ok
}

// BaseMime strips the parameters, "audio/webm;codecs=opus" -> "audio/webm".
func BaseMime(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	}
	return mediaType
}

var extensionByMime = map[string]string{
	"audio/webm":   "webm",
	"video/webm":   "webm", // MediaRecorder and filetype both like to call audio-only webm a video
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/wave":   "wav",
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/ogg":    "ogg",
	"audio/mp4":    "m4a",
	"audio/m4a":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	PCMMimeType:    "pcm",
}

// ExtensionFor returns the file extension (without dot) or "" when we have no idea.
func ExtensionFor(mimeType string) string {
	return extensionByMime[BaseMime(mimeType)]
}

// CanonicalMime maps the aliases onto one name per container.
func CanonicalMime(mimeType string) string {
	switch ExtensionFor(mimeType) {
	case "webm":
		return "audio/webm"
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	}
	return mimeType
}

// PCMDuration is zero for everything else than raw PCM.
func PCMDuration(mimeType string, byteLength int) time.Duration {
	format, ok := ParsePCMMime(mimeType)
	if !ok {
		return 0
	}
	bytesPerSecond := format.SampleRate * format.NumChannels * 2
	return time.Duration(int64(byteLength) * int64(time.Second) / int64(bytesPerSecond))
}

// FormatElapsed renders seconds as m:ss, the way the recorder shows it.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	secs := strconv.Itoa(seconds % 60)
	if len(secs) == 1 {
		secs = "0" + secs
	}
	return strconv.Itoa(seconds/60) + ":" + secs
}
