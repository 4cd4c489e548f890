package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/mixer"
)

type Config struct {
	Env string

	SampleRate     int
	BitDepth       int
	Channels       int
	TickDurationMs int
	// 0 follows the tick duration; negative or ManualTicks selects manual mode
	TickIntervalMs int
	ManualTicks    bool
	QueueCapacity  int
	OverflowPolicy string

	DatabaseURL string

	DiscordToken            string
	DiscordGuildID          string
	DiscordBridgeChannelIDs []string

	BridgeWebhookURL string

	TranscribeEnabled          bool
	TranscribeLanguage         string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("MIX_* format is invalid: %w", err)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("MIX_QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if _, err := mixer.ParseOverflowPolicy(c.OverflowPolicy); err != nil {
		return fmt.Errorf("MIX_OVERFLOW_POLICY is invalid: %w", err)
	}
	if len(c.DiscordBridgeChannelIDs) < 2 {
		return fmt.Errorf("DISCORD_BRIDGE_CHANNEL_IDS needs at least two channels, got %d", len(c.DiscordBridgeChannelIDs))
	}
	channels := make(map[string]struct{}, len(c.DiscordBridgeChannelIDs))
	guilds := make(map[string]string, len(c.DiscordBridgeChannelIDs))
	for _, entry := range c.DiscordBridgeChannelIDs {
		ch := c.parseBridgeChannel(entry)
		if ch.GuildID == "" || ch.ChannelID == "" {
			return fmt.Errorf("DISCORD_BRIDGE_CHANNEL_IDS contains an invalid entry %q", entry)
		}
		if _, dup := channels[ch.ChannelID]; dup {
			return fmt.Errorf("DISCORD_BRIDGE_CHANNEL_IDS contains %s twice", ch.ChannelID)
		}
		channels[ch.ChannelID] = struct{}{}
		// A bot holds at most one voice connection per guild.
		if other, dup := guilds[ch.GuildID]; dup {
			return fmt.Errorf("DISCORD_BRIDGE_CHANNEL_IDS has %s and %s in guild %s; bridged channels must be in different guilds", other, ch.ChannelID, ch.GuildID)
		}
		guilds[ch.GuildID] = ch.ChannelID
	}
	if c.TranscribeEnabled {
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBE_ENABLED=true")
		}
		if c.TranscribeLanguage == "" {
			return fmt.Errorf("TRANSCRIBE_LANGUAGE is required when TRANSCRIBE_ENABLED=true")
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
	}
}

// BridgeChannel is one voice channel to bridge, qualified by its guild.
type BridgeChannel struct {
	GuildID   string
	ChannelID string
}

// BridgeChannels resolves DISCORD_BRIDGE_CHANNEL_IDS entries. An entry is
// either "channel_id", which lives in DISCORD_GUILD_ID, or
// "guild_id:channel_id".
func (c *Config) BridgeChannels() []BridgeChannel {
	out := make([]BridgeChannel, 0, len(c.DiscordBridgeChannelIDs))
	for _, entry := range c.DiscordBridgeChannelIDs {
		out = append(out, c.parseBridgeChannel(entry))
	}
	return out
}

func (c *Config) parseBridgeChannel(entry string) BridgeChannel {
	guildID, channelID, ok := strings.Cut(strings.TrimSpace(entry), ":")
	if !ok {
		return BridgeChannel{GuildID: c.DiscordGuildID, ChannelID: guildID}
	}
	return BridgeChannel{GuildID: strings.TrimSpace(guildID), ChannelID: strings.TrimSpace(channelID)}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Format() audio.Format {
	return audio.Format{
		SampleRate:     c.SampleRate,
		BitDepth:       c.BitDepth,
		Channels:       c.Channels,
		TickDurationMs: c.TickDurationMs,
	}
}

// TickInterval returns the cadence for the scheduler, or mixer.ManualInterval.
func (c *Config) TickInterval() time.Duration {
	if c.ManualTicks || c.TickIntervalMs < 0 {
		return mixer.ManualInterval
	}
	if c.TickIntervalMs == 0 {
		return c.Format().TickDuration()
	}
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}
