package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/mixer"
	"github.com/foxseedlab/mixminus/internal/repository"
)

const (
	faultQueueCapacity = 256
	persistTimeout     = 5 * time.Second
	transcriberLabel   = "transcriber"
)

// faultRecorder persists participant faults off the mixing goroutines. When
// the database falls behind, the oldest unsaved faults are dropped.
type faultRecorder struct {
	repo      repository.FaultRepository
	sessionID string

	mu     sync.RWMutex
	labels map[audio.Participant]string

	worker *mixer.Worker[repository.InsertFaultInput]
}

func newFaultRecorder(repo repository.FaultRepository, sessionID string) *faultRecorder {
	r := &faultRecorder{
		repo:      repo,
		sessionID: sessionID,
		labels:    make(map[audio.Participant]string),
	}
	r.worker = mixer.NewWorker(r.persist,
		mixer.WithCapacity(faultQueueCapacity),
		mixer.WithOverflow(mixer.OverflowDropOldest),
	)
	return r
}

func (r *faultRecorder) label(p audio.Participant, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[p] = channelID
}

func (r *faultRecorder) labelOf(p audio.Participant) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.labels[p]
}

func (r *faultRecorder) ReportFault(f *mixer.ParticipantFault) {
	input := repository.InsertFaultInput{
		SessionID:  r.sessionID,
		ChannelID:  r.labelOf(f.Participant),
		Operation:  string(f.Op),
		Cycle:      int64(f.Cycle),
		Message:    f.Err.Error(),
		OccurredAt: time.Now(),
	}
	if _, err := r.worker.Enqueue(context.Background(), input); err != nil {
		slog.Warn("participant fault not recorded", "session_id", r.sessionID, "channel_id", input.ChannelID, "error", err)
	}
}

func (r *faultRecorder) persist(input repository.InsertFaultInput) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.repo.InsertFault(ctx, input); err != nil {
		slog.Error("failed to insert participant fault", "error", err, "session_id", input.SessionID, "channel_id", input.ChannelID)
	}
}

// close waits for queued faults to be written, up to ctx.
func (r *faultRecorder) close(ctx context.Context) {
	if err := r.worker.Wait(ctx); err != nil {
		slog.Warn("closing fault recorder with unsaved faults", "session_id", r.sessionID, "pending", r.worker.Stats().Pending, "error", err)
	}
	r.worker.Close()
}
