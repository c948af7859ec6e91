package artifact

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

const handleScheme = "artifact://"

// maxRememberedRevocations bounds the revoked set. Older revoked handles resolve to ErrUnknownHandle.
const maxRememberedRevocations = 64

var (
	ErrHandleRevoked = errors.New("artifact handle was revoked")
	ErrUnknownHandle = errors.New("unknown artifact handle")
)

// Store exclusively owns the current recording. Consumers (playback, download, submission) borrow it
// through a Handle or a Current copy and never mutate the bytes.
//
// Invariant: at most one handle is live, replacing or clearing revokes the previous one under the same lock,
// so nobody can observe the new artifact while the old handle still resolves.
type Store struct {
	mutex       sync.RWMutex
	current     *models.AudioArtifact
	revoked     map[models.Handle]struct{}
	revokeOrder []models.Handle // Oldest first, never longer than maxRememberedRevocations
	revocations int
	closed      bool
}

func NewStore() *Store {
	return &Store{revoked: make(map[models.Handle]struct{})}
}

// Set installs the artifact with a fresh handle and returns it, revoking whatever was there.
func (s *Store) Set(artifact models.AudioArtifact) models.AudioArtifact {
	artifact.Handle = models.Handle(handleScheme + uuid.New().String())

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.revokeLocked()
	if s.closed {
		// Nothing may hold a live handle after teardown.
		s.rememberRevokedLocked(artifact.Handle)
		log.Warn().Str("handle", string(artifact.Handle)).Msg("artifact store is closed, revoked the new handle right away")
		return artifact
	}
	s.current = &artifact
	log.Debug().Str("handle", string(artifact.Handle)).Str("mime_type", artifact.MimeType).Int("byte_length", artifact.Size()).Msg("artifact installed")
	return artifact
}

// Clear revokes the current handle, if any.
func (s *Store) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.revokeLocked()
}

// Close is the component teardown, it leaves no live handle behind.
func (s *Store) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.revokeLocked()
	s.closed = true
}

func (s *Store) revokeLocked() {
	if s.current == nil {
		return
	}
	s.rememberRevokedLocked(s.current.Handle)
	log.Debug().Str("handle", string(s.current.Handle)).Msg("artifact handle revoked")
	s.current = nil
}

func (s *Store) rememberRevokedLocked(handle models.Handle) {
	s.revocations++
	s.revoked[handle] = struct{}{}
	s.revokeOrder = append(s.revokeOrder, handle)
	if len(s.revokeOrder) > maxRememberedRevocations {
		delete(s.revoked, s.revokeOrder[0])
		s.revokeOrder = s.revokeOrder[1:]
	}
}

func (s *Store) Current() (models.AudioArtifact, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.current == nil {
		return models.AudioArtifact{}, false
	}
	return *s.current, true
}

// Resolve dereferences a handle the way playback and download do.
func (s *Store) Resolve(handle models.Handle) (models.AudioArtifact, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.current != nil && s.current.Handle == handle {
		return *s.current, nil
	}
	if _, ok := s.revoked[handle]; ok {
		return models.AudioArtifact{}, ErrHandleRevoked
	}
	return models.AudioArtifact{}, ErrUnknownHandle
}

// LiveHandles is either 0 or 1.
func (s *Store) LiveHandles() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.current == nil {
		return 0
	}
	return 1
}

func (s *Store) Revocations() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.revocations
}
