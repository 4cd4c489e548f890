package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

type BridgeSession struct {
	ID         string
	GuildID    string
	ChannelIDs []string
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     SessionStatus
	StopReason string
	Ticks      int64
	Delivered  int64
	Dropped    int64
	Faults     int64
}

type ParticipantFault struct {
	ID         string
	SessionID  string
	ChannelID  string
	Operation  string
	Cycle      int64
	Message    string
	OccurredAt time.Time
}

type TranscriptSegment struct {
	ID           string
	SessionID    string
	Content      string
	SegmentIndex int
	SpokenAt     time.Time
	CreatedAt    time.Time
}
