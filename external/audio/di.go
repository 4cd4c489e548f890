package audio

import (
	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/bridge"
	"github.com/foxseedlab/mixminus/internal/discord"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, bridge.ChannelParticipantFactory(func(conn discord.VoiceConnection, format audio.Format) (bridge.ChannelParticipant, error) {
		p, err := NewChannelParticipant(conn, format)
		if err != nil {
			return nil, err
		}
		return p, nil
	}))
}
