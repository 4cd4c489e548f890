package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/discord"
)

var (
	ErrUnsupportedFormat = errors.New("format is not a valid opus frame")
	ErrParticipantClosed = errors.New("channel participant is closed")
)

// maxQueuedFrames bounds per-speaker buffering. A speaker who gets further
// ahead of the tick than this loses their oldest frames.
const maxQueuedFrames = 10

const maxOpusPacketBytes = 4000

// idleSpeakerTicks is how many consecutive empty ticks a speaker may have
// before their decoder and queue are released.
const idleSpeakerTicks = 250

var (
	opusSampleRates    = []int{8000, 12000, 16000, 24000, 48000}
	opusFrameDurations = []int{5, 10, 20, 40, 60}
)

type frameDecoder interface {
	Decode(packet []byte, pcm []int16) (int, error)
}

type frameEncoder interface {
	Encode(pcm []int16, packet []byte) (int, error)
}

type codec interface {
	NewDecoder(sampleRate, channels int) (frameDecoder, error)
	NewEncoder(sampleRate, channels int) (frameEncoder, error)
}

type frameQueue struct {
	frames [][]int16
	idle   int
}

func (q *frameQueue) push(frame []int16) bool {
	dropped := false
	if len(q.frames) >= maxQueuedFrames {
		q.frames = q.frames[1:]
		dropped = true
	}
	q.frames = append(q.frames, frame)
	return dropped
}

func (q *frameQueue) pop() ([]int16, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

type ChannelStats struct {
	PacketsReceived uint64
	DecodeErrors    uint64
	FramesDropped   uint64
	SpeakersPruned  uint64
	FramesSent      uint64
	SendErrors      uint64
}

// ChannelParticipant is one voice channel seen by the mixer. It contributes
// the sum of everyone speaking in the channel and plays back whatever mix it
// is handed.
type ChannelParticipant struct {
	conn         discord.VoiceConnection
	format       audio.Format
	frameSamples int
	codec        codec

	mu       sync.Mutex
	decoders map[string]frameDecoder
	queues   map[string]*frameQueue
	acc      []int32
	mixed    []int16
	closed   bool
	stats    ChannelStats

	sendMu   sync.Mutex
	encoder  frameEncoder
	pcmOut   []int16
	packet   []byte
	speaking bool
}

func validateFrameFormat(format audio.Format) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, err
	}
	if !slices.Contains(opusSampleRates, format.SampleRate) {
		return 0, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, format.SampleRate)
	}
	if format.Channels != 1 && format.Channels != 2 {
		return 0, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.Channels)
	}
	if !slices.Contains(opusFrameDurations, format.TickDurationMs) {
		return 0, fmt.Errorf("%w: %d ms frame", ErrUnsupportedFormat, format.TickDurationMs)
	}
	frameSamples := format.SampleRate / 1000 * format.TickDurationMs * format.Channels
	if format.SamplesPerTick() != frameSamples {
		return 0, fmt.Errorf("%w: %d samples per tick, frame needs %d (bit depth must be 32)",
			ErrUnsupportedFormat, format.SamplesPerTick(), frameSamples)
	}
	return frameSamples, nil
}

func newChannelParticipant(conn discord.VoiceConnection, format audio.Format, c codec) (*ChannelParticipant, error) {
	frameSamples, err := validateFrameFormat(format)
	if err != nil {
		return nil, err
	}
	enc, err := c.NewEncoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	return &ChannelParticipant{
		conn:         conn,
		format:       format,
		frameSamples: frameSamples,
		codec:        c,
		decoders:     make(map[string]frameDecoder),
		queues:       make(map[string]*frameQueue),
		acc:          make([]int32, frameSamples),
		mixed:        make([]int16, frameSamples),
		encoder:      enc,
		pcmOut:       make([]int16, frameSamples),
		packet:       make([]byte, maxOpusPacketBytes),
	}, nil
}

func (p *ChannelParticipant) ChannelID() string {
	return p.conn.ChannelID()
}

// Listen feeds received packets into the participant until the voice
// connection stops delivering them.
func (p *ChannelParticipant) Listen() {
	p.conn.ReceiveAudio(p.receive)
}

func (p *ChannelParticipant) receive(userID string, packet []byte) {
	if len(packet) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stats.PacketsReceived++
	dec, ok := p.decoders[userID]
	if !ok {
		var err error
		dec, err = p.codec.NewDecoder(p.format.SampleRate, p.format.Channels)
		if err != nil {
			p.stats.DecodeErrors++
			slog.Warn("failed to create decoder", "channel_id", p.conn.ChannelID(), "user_id", userID, "error", err)
			return
		}
		p.decoders[userID] = dec
		p.queues[userID] = &frameQueue{}
	}
	pcm := make([]int16, p.frameSamples)
	n, err := dec.Decode(packet, pcm)
	if err != nil {
		p.stats.DecodeErrors++
		slog.Debug("failed to decode packet", "channel_id", p.conn.ChannelID(), "user_id", userID, "error", err)
		return
	}
	if n <= 0 {
		return
	}
	total := min(n*p.format.Channels, p.frameSamples)
	if p.queues[userID].push(pcm[:total]) {
		p.stats.FramesDropped++
	}
}

// Read pops one frame per speaker and contributes their sum, clamped once
// after accumulation. It returns 0 when nobody in the channel has anything
// queued. Speakers idle for idleSpeakerTicks reads are forgotten.
func (p *ChannelParticipant) Read(buf []float32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, nil
	}
	clear(p.acc)
	contributed := false
	for userID, q := range p.queues {
		frame, ok := q.pop()
		if !ok {
			q.idle++
			if q.idle >= idleSpeakerTicks {
				delete(p.queues, userID)
				delete(p.decoders, userID)
				p.stats.SpeakersPruned++
				slog.Debug("released idle speaker", "channel_id", p.conn.ChannelID(), "user_id", userID)
			}
			continue
		}
		q.idle = 0
		contributed = true
		for i := 0; i < len(frame) && i < len(p.acc); i++ {
			p.acc[i] += int32(frame[i])
		}
	}
	if !contributed {
		return 0, nil
	}
	for i, v := range p.acc {
		p.mixed[i] = clampPCM(v)
	}
	n := audio.Int16ToFloat32(buf, p.mixed)
	clear(buf[n:])
	return len(buf), nil
}

func clampPCM(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Write encodes the channel's mix and sends it as the bot. Silent mixes are
// not sent; the bot stops speaking instead.
func (p *ChannelParticipant) Write(buf []float32) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrParticipantClosed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if isSilent(buf) {
		return p.setSpeakingLocked(false)
	}
	clear(p.pcmOut)
	audio.Float32ToInt16(p.pcmOut, buf)
	n, err := p.encoder.Encode(p.pcmOut, p.packet)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if n == 0 {
		return nil
	}
	if err := p.setSpeakingLocked(true); err != nil {
		return err
	}
	if err := p.conn.SendAudio(p.packet[:n]); err != nil {
		p.mu.Lock()
		p.stats.SendErrors++
		p.mu.Unlock()
		return fmt.Errorf("send frame: %w", err)
	}
	p.mu.Lock()
	p.stats.FramesSent++
	p.mu.Unlock()
	return nil
}

func (p *ChannelParticipant) setSpeakingLocked(speaking bool) error {
	if p.speaking == speaking {
		return nil
	}
	if err := p.conn.SetSpeaking(speaking); err != nil {
		return fmt.Errorf("set speaking: %w", err)
	}
	p.speaking = speaking
	return nil
}

func isSilent(buf []float32) bool {
	for _, s := range buf {
		if s != 0 {
			return false
		}
	}
	return true
}

func (p *ChannelParticipant) Stats() ChannelStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close drops all decoder state. It does not disconnect the voice
// connection.
func (p *ChannelParticipant) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.decoders = nil
	p.queues = nil
	slog.Info("channel participant closed",
		"channel_id", p.conn.ChannelID(),
		"packets_received", p.stats.PacketsReceived,
		"decode_errors", p.stats.DecodeErrors,
		"frames_dropped", p.stats.FramesDropped,
		"speakers_pruned", p.stats.SpeakersPruned,
		"frames_sent", p.stats.FramesSent,
		"send_errors", p.stats.SendErrors)
	return nil
}
