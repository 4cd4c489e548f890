package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/repository"
	"github.com/foxseedlab/mixminus/internal/transcriber"
)

// transcriptionListener never contributes audio, so its mix is the full
// aggregate of every bridged channel. That aggregate is streamed to the
// transcriber and final results are stored as transcript segments.
type transcriptionListener struct {
	repo      repository.TranscriptRepository
	sessionID string

	mu        sync.Mutex
	writer    transcriber.StreamWriter
	nextIndex int
	stopping  bool
}

func newTranscriptionListener(repo repository.TranscriptRepository, sessionID string) *transcriptionListener {
	return &transcriptionListener{repo: repo, sessionID: sessionID}
}

func (l *transcriptionListener) attach(w transcriber.StreamWriter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *transcriptionListener) Read(_ []float32) (int, error) {
	return 0, nil
}

func (l *transcriptionListener) Write(buf []float32) error {
	l.mu.Lock()
	w := l.writer
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Write(audio.Float32ToLinear16(buf))
}

func (l *transcriptionListener) OnResult(_ int, text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if !isFinal || text == "" {
		return
	}
	l.mu.Lock()
	idx := l.nextIndex
	l.nextIndex++
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := l.repo.InsertSegment(ctx, repository.InsertSegmentInput{
		SessionID:    l.sessionID,
		Content:      text,
		SegmentIndex: idx,
		SpokenAt:     time.Now(),
	}); err != nil {
		slog.Error("failed to insert segment", "error", err, "session_id", l.sessionID)
	}
}

func (l *transcriptionListener) OnError(err error) {
	l.mu.Lock()
	stopping := l.stopping
	l.mu.Unlock()
	if stopping || errors.Is(err, context.Canceled) {
		slog.Info("transcriber stream ended", "session_id", l.sessionID, "reason", err.Error())
		return
	}
	slog.Error("transcriber stream error", "error", err, "session_id", l.sessionID)
}

func (l *transcriptionListener) close() error {
	l.mu.Lock()
	w := l.writer
	l.writer = nil
	l.stopping = true
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
