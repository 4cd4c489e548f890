package discord

import "context"

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	JoinVoiceChannel(guildID, channelID string) (VoiceConnection, error)
	ResolveChannelName(channelID string) string
	Run() error
}

// VoiceConnection is the bot's presence in one voice channel. Received opus
// packets carry the speaking user's id; sent packets go out as the bot.
type VoiceConnection interface {
	ChannelID() string
	Disconnect() error
	ReceiveAudio(callback func(userID string, opus []byte))
	SendAudio(opus []byte) error
	SetSpeaking(speaking bool) error
}
