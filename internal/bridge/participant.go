package bridge

import (
	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/discord"
)

// ChannelParticipant is a voice channel as the mixer sees it. Listen blocks
// while the connection delivers audio and is run on its own goroutine.
type ChannelParticipant interface {
	audio.Participant
	ChannelID() string
	Listen()
	Close() error
}

type ChannelParticipantFactory func(conn discord.VoiceConnection, format audio.Format) (ChannelParticipant, error)
