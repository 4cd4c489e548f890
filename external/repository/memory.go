package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/mixminus/internal/repository"
	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process. It is used when DATABASE_URL
// is not set.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*repository.BridgeSession
	faults   map[string][]repository.ParticipantFault
	segments map[string][]repository.TranscriptSegment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*repository.BridgeSession),
		faults:   make(map[string][]repository.ParticipantFault),
		segments: make(map[string][]repository.TranscriptSegment),
	}
}


func (r *MemoryRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.BridgeSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &repository.BridgeSession{
		ID:         uuid.NewString(),
		GuildID:    input.GuildID,
		ChannelIDs: append([]string(nil), input.ChannelIDs...),
		StartedAt:  input.StartedAt,
		Status:     repository.SessionStatusRunning,
	}
	r.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (r *MemoryRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[input.SessionID]
	if !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	endedAt := input.EndedAt
	s.EndedAt = &endedAt
	s.Status = repository.SessionStatusCompleted
	s.StopReason = input.StopReason
	s.Ticks = input.Ticks
	s.Delivered = input.Delivered
	s.Dropped = input.Dropped
	s.Faults = input.Faults
	return nil
}

func (r *MemoryRepository) GetRunningSessionByGuild(_ context.Context, guildID string) (*repository.BridgeSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *repository.BridgeSession
	for _, s := range r.sessions {
		if s.GuildID != guildID || s.Status != repository.SessionStatusRunning {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (r *MemoryRepository) Session(id string) (*repository.BridgeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	out := *s
	return &out, true
}

func (r *MemoryRepository) InsertFault(_ context.Context, input repository.InsertFaultInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[input.SessionID] = append(r.faults[input.SessionID], repository.ParticipantFault{
		ID:         uuid.NewString(),
		SessionID:  input.SessionID,
		ChannelID:  input.ChannelID,
		Operation:  input.Operation,
		Cycle:      input.Cycle,
		Message:    input.Message,
		OccurredAt: input.OccurredAt,
	})
	return nil
}

func (r *MemoryRepository) CountFaultsBySessionID(_ context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.faults[sessionID])), nil
}

func (r *MemoryRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seg := range r.segments[input.SessionID] {
		if seg.SegmentIndex == input.SegmentIndex {
			return fmt.Errorf("segment %d already exists for session %s", input.SegmentIndex, input.SessionID)
		}
	}
	r.segments[input.SessionID] = append(r.segments[input.SessionID], repository.TranscriptSegment{
		ID:           uuid.NewString(),
		SessionID:    input.SessionID,
		Content:      input.Content,
		SegmentIndex: input.SegmentIndex,
		SpokenAt:     input.SpokenAt,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (r *MemoryRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append([]repository.TranscriptSegment(nil), r.segments[sessionID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].SegmentIndex < list[j].SegmentIndex })
	return list, nil
}
