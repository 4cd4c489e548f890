package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/mixminus/internal/discord"
)

var (
	ErrNotConnected    = errors.New("discord session is not connected")
	ErrVoiceNotReady   = errors.New("voice connection is not ready")
	ErrSendBufferFull  = errors.New("voice send buffer is full")
	ErrVoiceDisconnect = errors.New("voice connection is disconnected")
)

// opusSendTimeout bounds how long a single frame may wait for room in the
// gateway's send buffer before it is dropped.
const opusSendTimeout = 5 * time.Millisecond

type Client struct {
	session *discordgo.Session
	token   string

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(token string) discordpkg.Client {
	return &Client{
		token: token,
		done:  make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates)
	s.State.TrackVoice = true
	s.State.TrackChannels = true

	opened := make(chan error, 1)
	go func() { opened <- s.Open() }()
	select {
	case err := <-opened:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
	c.session = s
	slog.Info("discord gateway connected")
	return nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.session != nil {
			err = c.session.Close()
		}
	})
	return err
}

func (c *Client) JoinVoiceChannel(guildID, channelID string) (discordpkg.VoiceConnection, error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}
	// Not deafened: the bridge needs the channel's incoming audio.
	vc, err := c.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, err
	}
	slog.Info("joined voice channel", "guild_id", guildID, "channel_id", channelID)
	return &voiceConnectionImpl{vc: vc, channelID: channelID}, nil
}

// ResolveChannelName prefers the state cache and falls back to REST. The
// channel id is returned when neither knows a name.
func (c *Client) ResolveChannelName(channelID string) string {
	if c.session == nil {
		return channelID
	}
	if c.session.State != nil {
		channel, err := c.session.State.Channel(channelID)
		if err == nil && channel != nil && channel.Name != "" {
			return channel.Name
		}
	}
	channel, err := c.session.Channel(channelID)
	if err != nil {
		if isRESTNotFound(err) {
			slog.Warn("discord channel not found; using channel id", "channel_id", channelID)
		} else {
			slog.Warn("discord channel lookup failed; using channel id", "channel_id", channelID, "error", err)
		}
		return channelID
	}
	if channel == nil || channel.Name == "" {
		return channelID
	}
	return channel.Name
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

// Run blocks until Close is called.
func (c *Client) Run() error {
	<-c.done
	return nil
}

type voiceConnectionImpl struct {
	vc        *discordgo.VoiceConnection
	channelID string
}

func (v *voiceConnectionImpl) ChannelID() string {
	return v.channelID
}

func (v *voiceConnectionImpl) Disconnect() error {
	return v.vc.Disconnect()
}

// ReceiveAudio blocks, handing each opus packet to callback until the
// connection's receive channel closes. Packets from an SSRC that has not
// announced a speaking update are attributed to the SSRC itself.
func (v *voiceConnectionImpl) ReceiveAudio(callback func(userID string, opus []byte)) {
	if v.vc.OpusRecv == nil {
		return
	}
	ssrcToUser := make(map[uint32]string)
	var mu sync.RWMutex
	v.vc.AddHandler(func(vc *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		if vs == nil || vs.UserID == "" {
			return
		}
		mu.Lock()
		ssrcToUser[uint32(vs.SSRC)] = vs.UserID
		mu.Unlock()
	})
	for p := range v.vc.OpusRecv {
		if p == nil || len(p.Opus) == 0 {
			continue
		}
		mu.RLock()
		userID := ssrcToUser[p.SSRC]
		mu.RUnlock()
		if userID == "" {
			userID = strconv.FormatUint(uint64(p.SSRC), 10)
		}
		callback(userID, p.Opus)
	}
}

// SendAudio queues one opus frame. It never waits longer than
// opusSendTimeout so a stalled gateway cannot hold up mix delivery.
func (v *voiceConnectionImpl) SendAudio(opus []byte) error {
	v.vc.RLock()
	ready := v.vc.Ready
	send := v.vc.OpusSend
	v.vc.RUnlock()
	if send == nil {
		return ErrVoiceDisconnect
	}
	if !ready {
		return ErrVoiceNotReady
	}
	frame := make([]byte, len(opus))
	copy(frame, opus)

	timer := time.NewTimer(opusSendTimeout)
	defer timer.Stop()
	select {
	case send <- frame:
		return nil
	case <-timer.C:
		return ErrSendBufferFull
	}
}

func (v *voiceConnectionImpl) SetSpeaking(speaking bool) error {
	return v.vc.Speaking(speaking)
}
