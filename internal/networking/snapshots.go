package networking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/petrzlen/voiceclone-golang/pkg/artifact"
	"github.com/petrzlen/voiceclone-golang/pkg/feedback"
	"github.com/petrzlen/voiceclone-golang/pkg/models"
	"github.com/petrzlen/voiceclone-golang/pkg/studio"
	"github.com/rs/zerolog/log"
)

// SnapshotSource is what the visualization reads, the studio in production.
type SnapshotSource interface {
	Snapshot() studio.Snapshot
	Feedback() *feedback.Generator
}

// snapshotStream pushes a snapshot whenever the feedback levels move, and otherwise every interval
// (only when it changed). Whatever the client sends is ignored.
type snapshotStream struct {
	reader chan []byte
	writer chan []byte
}

func (s *snapshotStream) GetReader() chan<- []byte {
	return s.reader
}

func (s *snapshotStream) GetWriter() <-chan []byte {
	return s.writer
}

func newSnapshotStream(ctx context.Context, source SnapshotSource, interval time.Duration) WebsocketMessageHandler {
	s := &snapshotStream{
		reader: make(chan []byte),
		writer: make(chan []byte, 1),
	}
	clientGone := make(chan struct{})
	go s.drainRoutine(clientGone)
	go s.publishRoutine(ctx, source, interval, clientGone)
	return s
}

// drainRoutine discards inbound frames, the visualization is read-only.
func (s *snapshotStream) drainRoutine(clientGone chan<- struct{}) {
	defer close(clientGone)
	for range s.reader {
	}
}

// publishRoutine owns the writer and closes it when either side is done.
func (s *snapshotStream) publishRoutine(ctx context.Context, source SnapshotSource, interval time.Duration, clientGone <-chan struct{}) {
	defer close(s.writer)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	levels := source.Feedback().Subscribe()
	defer source.Feedback().Unsubscribe(levels)

	var previous []byte
	for {
		msg, err := json.Marshal(source.Snapshot())
		if err != nil {
			log.Error().Err(err).Msg("cannot marshal snapshot")
			return
		}
		if !bytes.Equal(msg, previous) {
			select {
			case s.writer <- msg:
				previous = msg
			case <-clientGone:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case _, ok := <-levels:
			if !ok {
				// Generator closed, keep going on the ticker alone.
				levels = nil
			}
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Routes of the visualization server:
//
//	GET /ws        websocket with JSON snapshots
//	GET /snapshot  one JSON snapshot
//	GET /recording the recording behind ?handle= (the current one by default) as a file, raw captures as wav
//	GET /healthz
func NewServeMux(ctx context.Context, s *studio.Studio, interval time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWebsocketHandlerFunc(func(r *http.Request) WebsocketMessageHandler {
		return newSnapshotStream(ctx, s, interval)
	}))
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		errLog(json.NewEncoder(w).Encode(s.Snapshot()), "encode snapshot")
	})
	mux.HandleFunc("/recording", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handle := models.Handle(r.URL.Query().Get("handle"))
		if handle == "" {
			current, ok := s.Store().Current()
			if !ok {
				http.Error(w, "no recording", http.StatusNotFound)
				return
			}
			handle = current.Handle
		}
		recording, err := s.Store().Resolve(handle)
		switch {
		case errors.Is(err, artifact.ErrHandleRevoked):
			http.Error(w, err.Error(), http.StatusGone)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case recording.IsEmpty():
			http.Error(w, "recording is empty", http.StatusNotFound)
			return
		}
		_, mimeType, err := artifact.Encoded(recording)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", mimeType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.DownloadName(recording, time.Now())+`"`)
		if _, err = artifact.WriteTo(w, recording); err != nil {
			log.Debug().Err(err).Msg("cannot stream recording")
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// ListenAndServe blocks until ctx is cancelled, then shuts the server down.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("visualization server listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errChan; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
