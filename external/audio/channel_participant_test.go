package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/foxseedlab/mixminus/internal/audio"
)

var bridgeFormat = audio.Format{SampleRate: 48000, BitDepth: 32, Channels: 2, TickDurationMs: 20}

var errCorruptPacket = errors.New("corrupt packet")

// fakeDecoder treats a packet as one little-endian int16 repeated across the
// whole frame.
type fakeDecoder struct {
	channels int
}

func (d *fakeDecoder) Decode(packet []byte, pcm []int16) (int, error) {
	if len(packet) < 2 {
		return 0, errCorruptPacket
	}
	v := int16(binary.LittleEndian.Uint16(packet))
	for i := range pcm {
		pcm[i] = v
	}
	return len(pcm) / d.channels, nil
}

// fakeEncoder writes the first sample as the whole packet.
type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16, packet []byte) (int, error) {
	binary.LittleEndian.PutUint16(packet, uint16(pcm[0]))
	return 2, nil
}

type fakeCodec struct {
	decoders int
}

func (c *fakeCodec) NewDecoder(_, channels int) (frameDecoder, error) {
	c.decoders++
	return &fakeDecoder{channels: channels}, nil
}

func (c *fakeCodec) NewEncoder(_, _ int) (frameEncoder, error) {
	return fakeEncoder{}, nil
}

type fakeVoice struct {
	mu       sync.Mutex
	incoming []struct {
		user   string
		packet []byte
	}
	sent     [][]byte
	speaking []bool
	sendErr  error
}

func (v *fakeVoice) ChannelID() string { return "vc-1" }
func (v *fakeVoice) Disconnect() error { return nil }

func (v *fakeVoice) ReceiveAudio(cb func(userID string, opus []byte)) {
	for _, in := range v.incoming {
		cb(in.user, in.packet)
	}
}

func (v *fakeVoice) SendAudio(opus []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sendErr != nil {
		return v.sendErr
	}
	v.sent = append(v.sent, append([]byte(nil), opus...))
	return nil
}

func (v *fakeVoice) SetSpeaking(speaking bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = append(v.speaking, speaking)
	return nil
}

func packet(v int16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

func newTestParticipant(t *testing.T) (*ChannelParticipant, *fakeVoice, *fakeCodec) {
	t.Helper()
	voice := &fakeVoice{}
	c := &fakeCodec{}
	p, err := newChannelParticipant(voice, bridgeFormat, c)
	if err != nil {
		t.Fatalf("newChannelParticipant returned error: %v", err)
	}
	return p, voice, c
}

func assertAll(t *testing.T, buf []float32, want float32) {
	t.Helper()
	for i, s := range buf {
		if s != want {
			t.Fatalf("sample %d = %v, want %v", i, s, want)
		}
	}
}

func TestValidateFrameFormat(t *testing.T) {
	n, err := validateFrameFormat(bridgeFormat)
	if err != nil {
		t.Fatalf("expected bridge format to be valid, got %v", err)
	}
	if n != 1920 {
		t.Fatalf("expected 1920 frame samples, got %d", n)
	}

	tests := []struct {
		name   string
		format audio.Format
		want   error
	}{
		{name: "16 bit", format: audio.Format{SampleRate: 48000, BitDepth: 16, Channels: 2, TickDurationMs: 20}, want: ErrUnsupportedFormat},
		{name: "cd rate", format: audio.Format{SampleRate: 44100, BitDepth: 32, Channels: 2, TickDurationMs: 20}, want: ErrUnsupportedFormat},
		{name: "odd frame", format: audio.Format{SampleRate: 48000, BitDepth: 32, Channels: 2, TickDurationMs: 25}, want: ErrUnsupportedFormat},
		{name: "surround", format: audio.Format{SampleRate: 48000, BitDepth: 32, Channels: 6, TickDurationMs: 20}, want: ErrUnsupportedFormat},
		{name: "invalid", format: audio.Format{SampleRate: 48000, BitDepth: 32, Channels: 2}, want: audio.ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := validateFrameFormat(tt.format); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRead_NothingQueuedIsSilent(t *testing.T) {
	p, _, _ := newTestParticipant(t)
	buf := make([]float32, 1920)
	n, err := p.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}

func TestRead_SumsOneFramePerSpeaker(t *testing.T) {
	p, _, c := newTestParticipant(t)
	p.receive("alice", packet(4096))
	p.receive("bob", packet(8192))
	p.receive("bob", packet(8192))

	buf := make([]float32, 1920)
	n, err := p.Read(buf)
	if err != nil || n != 1920 {
		t.Fatalf("expected (1920, nil), got (%d, %v)", n, err)
	}
	assertAll(t, buf, 0.375)

	n, _ = p.Read(buf)
	if n != 1920 {
		t.Fatalf("expected bob's second frame, got %d", n)
	}
	assertAll(t, buf, 0.25)

	if n, _ := p.Read(buf); n != 0 {
		t.Fatalf("expected silence once queues drain, got %d", n)
	}
	if c.decoders != 2 {
		t.Fatalf("expected one decoder per speaker, got %d", c.decoders)
	}
}

func TestRead_ClampsLoudSum(t *testing.T) {
	p, _, _ := newTestParticipant(t)
	p.receive("alice", packet(30000))
	p.receive("bob", packet(30000))

	buf := make([]float32, 1920)
	if _, err := p.Read(buf); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	assertAll(t, buf, float32(32767)/32768)
}

func TestRead_ClampsOnceAfterSumming(t *testing.T) {
	p, _, _ := newTestParticipant(t)
	p.receive("alice", packet(30000))
	p.receive("bob", packet(30000))
	p.receive("carol", packet(-30000))

	buf := make([]float32, 1920)
	if _, err := p.Read(buf); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	assertAll(t, buf, float32(30000)/32768)
}

func TestRead_ReleasesIdleSpeakers(t *testing.T) {
	p, _, c := newTestParticipant(t)
	p.receive("alice", packet(4096))

	buf := make([]float32, 1920)
	if n, _ := p.Read(buf); n != 1920 {
		t.Fatalf("expected alice's frame, got %d", n)
	}
	for i := 0; i < idleSpeakerTicks-1; i++ {
		_, _ = p.Read(buf)
	}
	if got := p.Stats().SpeakersPruned; got != 0 {
		t.Fatalf("expected alice to be kept until the idle limit, got %d pruned", got)
	}
	_, _ = p.Read(buf)
	if got := p.Stats().SpeakersPruned; got != 1 {
		t.Fatalf("expected alice to be released, got %d pruned", got)
	}
	p.mu.Lock()
	speakers := len(p.queues) + len(p.decoders)
	p.mu.Unlock()
	if speakers != 0 {
		t.Fatalf("expected no per-speaker state, got %d entries", speakers)
	}

	p.receive("alice", packet(8192))
	if n, _ := p.Read(buf); n != 1920 {
		t.Fatalf("expected alice to be heard again, got %d", n)
	}
	assertAll(t, buf, 0.25)
	if c.decoders != 2 {
		t.Fatalf("expected a fresh decoder after release, got %d", c.decoders)
	}
}

func TestReceive_BoundsQueuePerSpeaker(t *testing.T) {
	p, _, _ := newTestParticipant(t)
	for i := 0; i < maxQueuedFrames+2; i++ {
		p.receive("alice", packet(int16(i+1)))
	}
	if got := p.Stats().FramesDropped; got != 2 {
		t.Fatalf("expected 2 dropped frames, got %d", got)
	}

	buf := make([]float32, 1920)
	if _, err := p.Read(buf); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	assertAll(t, buf, float32(3)/32768)
}

func TestReceive_CountsDecodeErrors(t *testing.T) {
	p, _, _ := newTestParticipant(t)
	p.receive("alice", []byte{1})
	p.receive("alice", nil)
	stats := p.Stats()
	if stats.PacketsReceived != 1 || stats.DecodeErrors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestListen_FeedsReceivedPackets(t *testing.T) {
	p, voice, _ := newTestParticipant(t)
	voice.incoming = append(voice.incoming, struct {
		user   string
		packet []byte
	}{user: "alice", packet: packet(16384)})
	p.Listen()

	buf := make([]float32, 1920)
	if n, _ := p.Read(buf); n != 1920 {
		t.Fatalf("expected a frame from Listen, got %d", n)
	}
	assertAll(t, buf, 0.5)
}

func TestWrite_SendsOnlyAudibleMix(t *testing.T) {
	p, voice, _ := newTestParticipant(t)
	buf := make([]float32, 1920)

	if err := p.Write(buf); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(voice.sent) != 0 || len(voice.speaking) != 0 {
		t.Fatalf("expected silence to send nothing, got %d frames %v", len(voice.sent), voice.speaking)
	}

	for i := range buf {
		buf[i] = 0.5
	}
	if err := p.Write(buf); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := p.Write(buf); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(voice.sent) != 2 {
		t.Fatalf("expected 2 frames sent, got %d", len(voice.sent))
	}
	if got := int16(binary.LittleEndian.Uint16(voice.sent[0])); got != 16384 {
		t.Fatalf("expected encoded sample 16384, got %d", got)
	}

	clear(buf)
	if err := p.Write(buf); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(voice.speaking) != 2 || !voice.speaking[0] || voice.speaking[1] {
		t.Fatalf("expected speaking on then off, got %v", voice.speaking)
	}
	if got := p.Stats().FramesSent; got != 2 {
		t.Fatalf("expected 2 frames counted, got %d", got)
	}
}

func TestWrite_WrapsSendError(t *testing.T) {
	p, voice, _ := newTestParticipant(t)
	voice.sendErr = errors.New("gateway gone")
	buf := make([]float32, 1920)
	buf[0] = 0.1
	if err := p.Write(buf); !errors.Is(err, voice.sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if got := p.Stats().SendErrors; got != 1 {
		t.Fatalf("expected 1 send error, got %d", got)
	}
}

func TestClose_StopsParticipant(t *testing.T) {
	p, _, _ := newTestParticipant(t)
	p.receive("alice", packet(100))
	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}

	buf := make([]float32, 1920)
	if n, _ := p.Read(buf); n != 0 {
		t.Fatalf("expected no audio after close, got %d", n)
	}
	p.receive("alice", packet(100))
	if err := p.Write(buf); !errors.Is(err, ErrParticipantClosed) {
		t.Fatalf("expected ErrParticipantClosed, got %v", err)
	}
}
