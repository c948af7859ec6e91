package models

import (
	"time"

	"github.com/rs/zerolog/log"
)

type Trace struct {
	CreatedAt time.Time
	Creator   string

	ProcessedAt time.Time
	Processor   string
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

func (t Trace) Log() {
	log.Trace().Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

// Handle is an externally dereferenceable reference to an artifact, e.g. "artifact://1b4e28ba".
// Playback and download consumers only ever hold a Handle, never the bytes.
type Handle string

// AudioArtifact is the finalized audio of one completed recording (or one imported file).
// Bytes MUST be treated as read-only once the artifact was handed to the artifact store.
type AudioArtifact struct {
	Bytes    []byte
	MimeType string
	Handle   Handle
	// Length is only known for raw PCM, zero otherwise.
	Length time.Duration
	Trace  Trace
}

func (a AudioArtifact) IsEmpty() bool {
	return len(a.Bytes) == 0
}

func (a AudioArtifact) Size() int {
	return len(a.Bytes)
}
