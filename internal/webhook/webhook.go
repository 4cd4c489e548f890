package webhook

import (
	"context"
	"time"
)

type BridgeChannel struct {
	GuildID     string `json:"guild_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

type BridgeSummary struct {
	SessionID       string          `json:"session_id"`
	GuildID         string          `json:"guild_id"`
	Channels        []BridgeChannel `json:"channels"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
	DurationSeconds int64           `json:"duration_seconds"`
	StopReason      string          `json:"stop_reason"`
	Ticks           uint64          `json:"ticks"`
	DeliveredCycles uint64          `json:"delivered_cycles"`
	DroppedCycles   uint64          `json:"dropped_cycles"`
	Faults          uint64          `json:"faults"`
	TranscriptLines []string        `json:"transcript_lines,omitempty"`
}

type Sender interface {
	SendSummary(ctx context.Context, summary BridgeSummary) error
}
