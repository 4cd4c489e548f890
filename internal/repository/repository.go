package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	GuildID    string
	ChannelIDs []string
	StartedAt  time.Time
}

type CompleteSessionInput struct {
	SessionID  string
	EndedAt    time.Time
	StopReason string
	Ticks      int64
	Delivered  int64
	Dropped    int64
	Faults     int64
}

type InsertFaultInput struct {
	SessionID  string
	ChannelID  string
	Operation  string
	Cycle      int64
	Message    string
	OccurredAt time.Time
}

type InsertSegmentInput struct {
	SessionID    string
	Content      string
	SegmentIndex int
	SpokenAt     time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*BridgeSession, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	GetRunningSessionByGuild(ctx context.Context, guildID string) (*BridgeSession, error)
}

type FaultRepository interface {
	InsertFault(ctx context.Context, input InsertFaultInput) error
	CountFaultsBySessionID(ctx context.Context, sessionID string) (int64, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	FaultRepository
	TranscriptRepository
}
