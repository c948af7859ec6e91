package artifact

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/audio_utils"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmArtifact(samples ...int) models.AudioArtifact {
	return models.AudioArtifact{
		Bytes:    audio_utils.IntSliceToTwoByteData(samples),
		MimeType: audio_utils.PCMMime(8000, 1),
	}
}

func TestSetIssuesFreshHandles(t *testing.T) {
	store := NewStore()

	first := store.Set(pcmArtifact(1, 2))
	second := store.Set(pcmArtifact(3, 4))
	assert.True(t, strings.HasPrefix(string(first.Handle), "artifact://"))
	assert.NotEqual(t, first.Handle, second.Handle)

	_, err := store.Resolve(first.Handle)
	require.ErrorIs(t, err, ErrHandleRevoked)

	resolved, err := store.Resolve(second.Handle)
	require.NoError(t, err)
	assert.Equal(t, second.Bytes, resolved.Bytes)

	current, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, second.Handle, current.Handle)
}

func TestNSetsRevokeNMinusOne(t *testing.T) {
	store := NewStore()
	const n = 17
	for i := 0; i < n; i++ {
		store.Set(pcmArtifact(i))
	}
	assert.Equal(t, n-1, store.Revocations())
	assert.Equal(t, 1, store.LiveHandles())

	store.Close()
	assert.Equal(t, n, store.Revocations())
	assert.Zero(t, store.LiveHandles())
}

func TestRevokedHandlesAreBounded(t *testing.T) {
	store := NewStore()
	var handles []models.Handle
	for i := 0; i < maxRememberedRevocations+10; i++ {
		handles = append(handles, store.Set(pcmArtifact(i)).Handle)
		store.Clear()
	}
	assert.Equal(t, maxRememberedRevocations+10, store.Revocations())
	assert.Len(t, store.revoked, maxRememberedRevocations)
	assert.Len(t, store.revokeOrder, maxRememberedRevocations)

	_, err := store.Resolve(handles[0])
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = store.Resolve(handles[len(handles)-1])
	assert.ErrorIs(t, err, ErrHandleRevoked)
	_, err = store.Resolve(handles[len(handles)-maxRememberedRevocations])
	assert.ErrorIs(t, err, ErrHandleRevoked)
}

func TestClear(t *testing.T) {
	store := NewStore()
	store.Clear()
	assert.Zero(t, store.Revocations())

	installed := store.Set(pcmArtifact(1))
	store.Clear()
	_, ok := store.Current()
	assert.False(t, ok)
	assert.Zero(t, store.LiveHandles())
	_, err := store.Resolve(installed.Handle)
	require.ErrorIs(t, err, ErrHandleRevoked)

	_, err = store.Resolve("artifact://never-issued")
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestSetAfterCloseLeavesNoLiveHandle(t *testing.T) {
	store := NewStore()
	store.Close()

	late := store.Set(pcmArtifact(1))
	assert.Zero(t, store.LiveHandles())
	_, err := store.Resolve(late.Handle)
	require.ErrorIs(t, err, ErrHandleRevoked)
}

func TestConcurrentSetsKeepOneLiveHandle(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			installed := store.Set(pcmArtifact(i))
			// Whatever we just installed is either current, or already superseded; never unknown.
			_, err := store.Resolve(installed.Handle)
			if err != nil {
				assert.ErrorIs(t, err, ErrHandleRevoked)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, store.LiveHandles())
	assert.Equal(t, 49, store.Revocations())
}

func TestImportFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	wavBytes, err := audio_utils.ConvertPCMToWav(audio_utils.IntSliceToTwoByteData([]int{1, 2, 3, 4}), audio_utils.PCMMime(8000, 1))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/samples/me.wav", wavBytes, 0o644))

	store := NewStore()
	imported, err := store.ImportFile(fs, "/samples/me.wav")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", imported.MimeType)
	assert.Equal(t, wavBytes, imported.Bytes)
	assert.Equal(t, 1, store.LiveHandles())
}

func TestImportFileRejects(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/samples/notes.txt", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/samples/fake.wav", []byte("definitely not audio"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/samples/empty.mp3", nil, 0o644))
	// A real PNG renamed to .mp3
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	require.NoError(t, afero.WriteFile(fs, "/samples/image.mp3", png, 0o644))

	store := NewStore()
	for _, path := range []string{"/samples/notes.txt", "/samples/fake.wav", "/samples/empty.mp3", "/samples/image.mp3"} {
		_, err := store.ImportFile(fs, path)
		require.ErrorIs(t, err, ErrUnsupportedAudio, path)
	}
	_, err := store.ImportFile(fs, "/samples/missing.wav")
	require.Error(t, err)
	assert.Zero(t, store.LiveHandles())
}

func TestSaveToFileWrapsPCM(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore()
	installed := store.Set(pcmArtifact(5, -5, 10, -10))
	now := time.UnixMilli(1700000000123)

	path, err := store.SaveToFile(fs, "/downloads", installed.Handle, now)
	require.NoError(t, err)
	assert.Equal(t, "/downloads/voice-sample-1700000000123.wav", path)

	written, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	decoded, err := audio_utils.DecodeFromWav(written)
	require.NoError(t, err)
	assert.Equal(t, []int{5, -5, 10, -10}, decoded.Data)
}

func TestSaveToFileKeepsContainer(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore()
	installed := store.Set(models.AudioArtifact{Bytes: []byte("webm-bytes"), MimeType: "audio/webm;codecs=opus"})

	path, err := store.SaveToFile(fs, "out", installed.Handle, time.UnixMilli(42))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("out/voice-sample-%d.webm", 42), path)
	written, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("webm-bytes"), written)
}

func TestSaveToFileRevokedHandle(t *testing.T) {
	store := NewStore()
	installed := store.Set(pcmArtifact(1))
	store.Clear()

	_, err := store.SaveToFile(afero.NewMemMapFs(), "out", installed.Handle, time.Now())
	require.ErrorIs(t, err, ErrHandleRevoked)
}
