//go:build opus

package audio

import (
	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/discord"
	"github.com/hraban/opus"
)

type opusCodec struct{}

func (opusCodec) NewDecoder(sampleRate, channels int) (frameDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

func (opusCodec) NewEncoder(sampleRate, channels int) (frameEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func NewChannelParticipant(conn discord.VoiceConnection, format audio.Format) (*ChannelParticipant, error) {
	return newChannelParticipant(conn, format, opusCodec{})
}
