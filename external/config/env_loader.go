package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/mixminus/internal/config"
)

type envConfig struct {
	Env string `env:"ENV" envDefault:"production"`

	SampleRate     int    `env:"MIX_SAMPLE_RATE" envDefault:"48000"`
	BitDepth       int    `env:"MIX_BIT_DEPTH" envDefault:"32"`
	Channels       int    `env:"MIX_CHANNELS" envDefault:"2"`
	TickDurationMs int    `env:"MIX_TICK_DURATION_MS" envDefault:"20"`
	TickIntervalMs int    `env:"MIX_TICK_INTERVAL_MS" envDefault:"0"`
	ManualTicks    bool   `env:"MIX_MANUAL_TICKS" envDefault:"false"`
	QueueCapacity  int    `env:"MIX_QUEUE_CAPACITY" envDefault:"64"`
	OverflowPolicy string `env:"MIX_OVERFLOW_POLICY" envDefault:"block"`

	DatabaseURL string `env:"DATABASE_URL"`

	DiscordToken            string   `env:"DISCORD_TOKEN,required"`
	DiscordGuildID          string   `env:"DISCORD_GUILD_ID,required"`
	DiscordBridgeChannelIDs []string `env:"DISCORD_BRIDGE_CHANNEL_IDS,required" envSeparator:","`

	BridgeWebhookURL string `env:"BRIDGE_WEBHOOK_URL"`

	TranscribeEnabled          bool   `env:"TRANSCRIBE_ENABLED" envDefault:"false"`
	TranscribeLanguage         string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	cfg := fromEnv(raw)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv(raw envConfig) *internalconfig.Config {
	return &internalconfig.Config{
		Env:                        raw.Env,
		SampleRate:                 raw.SampleRate,
		BitDepth:                   raw.BitDepth,
		Channels:                   raw.Channels,
		TickDurationMs:             raw.TickDurationMs,
		TickIntervalMs:             raw.TickIntervalMs,
		ManualTicks:                raw.ManualTicks,
		QueueCapacity:              raw.QueueCapacity,
		OverflowPolicy:             raw.OverflowPolicy,
		DatabaseURL:                raw.DatabaseURL,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordBridgeChannelIDs:    trimIDs(raw.DiscordBridgeChannelIDs),
		BridgeWebhookURL:           raw.BridgeWebhookURL,
		TranscribeEnabled:          raw.TranscribeEnabled,
		TranscribeLanguage:         raw.TranscribeLanguage,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
	}
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
