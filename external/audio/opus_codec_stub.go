//go:build !opus

package audio

import (
	"log/slog"

	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/discord"
)

// silentCodec stands in when the binary is built without libopus. Channels
// contribute nothing and nothing is sent back.
type silentCodec struct{}

type silentDecoder struct{}

func (silentDecoder) Decode(_ []byte, _ []int16) (int, error) {
	return 0, nil
}

type silentEncoder struct{}

func (silentEncoder) Encode(_ []int16, _ []byte) (int, error) {
	return 0, nil
}

func (silentCodec) NewDecoder(_, _ int) (frameDecoder, error) {
	return silentDecoder{}, nil
}

func (silentCodec) NewEncoder(_, _ int) (frameEncoder, error) {
	return silentEncoder{}, nil
}

func NewChannelParticipant(conn discord.VoiceConnection, format audio.Format) (*ChannelParticipant, error) {
	slog.Warn("built without opus support; channel will be silent", "channel_id", conn.ChannelID())
	return newChannelParticipant(conn, format, silentCodec{})
}
