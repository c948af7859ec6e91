package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/audioio"
	"github.com/petrzlen/voiceclone-golang/pkg/audioio/audioiotest"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mutex     sync.Mutex
	artifacts []models.AudioArtifact
}

func (m *memorySink) Set(artifact models.AudioArtifact) models.AudioArtifact {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	artifact.Handle = models.Handle(fmt.Sprintf("artifact://%d", len(m.artifacts)))
	m.artifacts = append(m.artifacts, artifact)
	return artifact
}

func (m *memorySink) count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.artifacts)
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *audioiotest.InputDevice, *memorySink) {
	device := audioiotest.NewInputDevice()
	sink := &memorySink{}
	session := NewSession(device, sink, opts...)
	t.Cleanup(session.Close)
	return session, device, sink
}

func TestRecordThreeChunks(t *testing.T) {
	session, device, sink := newTestSession(t)

	require.NoError(t, session.Start(context.Background()))
	assert.Equal(t, Recording, session.State())
	assert.True(t, session.IsCapturing())

	require.True(t, device.Push([]byte("a")))
	require.True(t, device.Push([]byte("bc")))
	require.True(t, device.Push([]byte("def")))

	artifact, finalized := session.Stop()
	require.True(t, finalized)
	assert.Equal(t, []byte("abcdef"), artifact.Bytes)
	assert.Equal(t, device.MimeType, artifact.MimeType)
	assert.NotEmpty(t, artifact.Handle)

	assert.Equal(t, Idle, session.State())
	assert.False(t, session.IsCapturing())
	assert.Equal(t, 1, sink.count())
	assert.Zero(t, device.LiveStreams())
}

func TestChunkOrderIsPreserved(t *testing.T) {
	session, device, _ := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))

	var want []byte
	for i := 0; i < 500; i++ {
		chunk := []byte{byte(i), byte(i >> 8)}
		want = append(want, chunk...)
		require.True(t, device.Push(chunk))
	}

	artifact, finalized := session.Stop()
	require.True(t, finalized)
	assert.Equal(t, want, artifact.Bytes)
}

func TestEmptyChunksAreDropped(t *testing.T) {
	session, device, _ := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))

	device.Push([]byte{})
	device.Push([]byte("x"))
	device.Push(nil)

	artifact, _ := session.Stop()
	assert.Equal(t, []byte("x"), artifact.Bytes)
}

func TestStopWithoutChunksYieldsEmptyArtifact(t *testing.T) {
	session, _, sink := newTestSession(t)
	require.NoError(t, session.Start(context.Background()))

	artifact, finalized := session.Stop()
	require.True(t, finalized)
	assert.True(t, artifact.IsEmpty())
	assert.Equal(t, 1, sink.count())
}

func TestStartIsIdempotent(t *testing.T) {
	session, device, _ := newTestSession(t)

	require.NoError(t, session.Start(context.Background()))
	require.NoError(t, session.Start(context.Background()))
	assert.Equal(t, 1, device.Acquired())

	device.Push([]byte("only-one-take"))
	artifact, _ := session.Stop()
	assert.Equal(t, []byte("only-one-take"), artifact.Bytes)
	assert.Equal(t, 1, device.Released())
}

func TestConcurrentStartsAcquireOnce(t *testing.T) {
	session, device, _ := newTestSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, session.Start(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, device.Acquired())
	session.Stop()
	assert.Zero(t, device.LiveStreams())
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	session, device, sink := newTestSession(t)

	_, finalized := session.Stop()
	assert.False(t, finalized)
	assert.Equal(t, Idle, session.State())
	assert.Zero(t, sink.count())
	assert.Zero(t, device.Released())
}

func TestAcquireFailureStaysIdle(t *testing.T) {
	session, device, sink := newTestSession(t)
	device.AcquireErr = audioio.ErrPermissionDenied

	err := session.Start(context.Background())
	require.ErrorIs(t, err, audioio.ErrPermissionDenied)
	assert.Equal(t, Idle, session.State())
	assert.False(t, device.Push([]byte("ignored")))

	_, finalized := session.Stop()
	assert.False(t, finalized)
	assert.Zero(t, sink.count())
}

func TestElapsedSecondsTicks(t *testing.T) {
	session, _, _ := newTestSession(t, WithTickInterval(5*time.Millisecond))

	require.NoError(t, session.Start(context.Background()))
	require.Eventually(t, func() bool {
		return session.ElapsedSeconds() >= 3
	}, time.Second, time.Millisecond)

	session.Stop()
	frozen := session.ElapsedSeconds()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, session.ElapsedSeconds())

	session.ResetElapsed()
	require.Eventually(t, func() bool {
		return session.ElapsedSeconds() == 0
	}, time.Second, time.Millisecond)
}

func TestStartResetsElapsedAndChunks(t *testing.T) {
	session, device, _ := newTestSession(t, WithTickInterval(5*time.Millisecond))

	require.NoError(t, session.Start(context.Background()))
	device.Push([]byte("first"))
	require.Eventually(t, func() bool { return session.ElapsedSeconds() >= 1 }, time.Second, time.Millisecond)
	session.Stop()

	require.NoError(t, session.Start(context.Background()))
	assert.Less(t, session.ElapsedSeconds(), 2)
	device.Push([]byte("second"))
	artifact, _ := session.Stop()
	assert.Equal(t, []byte("second"), artifact.Bytes)
	assert.Equal(t, 2, device.Released())
}

func TestCapturingObserver(t *testing.T) {
	var mutex sync.Mutex
	var changes []bool
	session, _, _ := newTestSession(t, WithCapturingObserver(func(capturing bool) {
		mutex.Lock()
		defer mutex.Unlock()
		changes = append(changes, capturing)
	}))

	require.NoError(t, session.Start(context.Background()))
	session.Stop()

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, []bool{true, false}, changes)
}

func TestCloseDiscardsRecording(t *testing.T) {
	device := audioiotest.NewInputDevice()
	sink := &memorySink{}
	session := NewSession(device, sink)

	require.NoError(t, session.Start(context.Background()))
	device.Push([]byte("lost"))
	session.Close()
	session.Close()

	assert.Zero(t, sink.count())
	assert.Zero(t, device.LiveStreams())
	assert.True(t, errors.Is(session.Start(context.Background()), ErrClosed))
	_, finalized := session.Stop()
	assert.False(t, finalized)
}

func TestStartHonorsCancelledContext(t *testing.T) {
	session, device, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, session.Start(ctx), context.Canceled)
	assert.Zero(t, device.Acquired())
	assert.Equal(t, Idle, session.State())
}
