package audio

import (
	"errors"
	"testing"
	"time"
)

func TestSamplesPerTick_Default(t *testing.T) {
	f := DefaultFormat()
	if got := f.SamplesPerTick(); got != 480 {
		t.Fatalf("expected 480 samples per tick, got %d", got)
	}
	if got := f.TickDuration(); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms tick, got %v", got)
	}
}

func TestSamplesPerTick_Table(t *testing.T) {
	tests := []struct {
		format Format
		want   int
	}{
		{format: Format{SampleRate: 24000, BitDepth: 16, Channels: 1, TickDurationMs: 20}, want: 240},
		{format: Format{SampleRate: 8000, BitDepth: 16, Channels: 1, TickDurationMs: 20}, want: 80},
		{format: Format{SampleRate: 44100, BitDepth: 16, Channels: 2, TickDurationMs: 10}, want: 440},
		{format: Format{SampleRate: 16000, BitDepth: 8, Channels: 1, TickDurationMs: 5}, want: 20},
	}
	for _, tt := range tests {
		if got := tt.format.SamplesPerTick(); got != tt.want {
			t.Errorf("%s: expected %d samples per tick, got %d", tt.format, tt.want, got)
		}
	}
}

func TestSamplesPerTick_FloatStereo(t *testing.T) {
	f := Format{SampleRate: 48000, BitDepth: 32, Channels: 2, TickDurationMs: 20}
	if got := f.SamplesPerTick(); got != 1920 {
		t.Fatalf("expected 1920 samples per tick, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultFormat().Validate(); err != nil {
		t.Fatalf("expected default format to be valid, got %v", err)
	}
	invalid := []Format{
		{SampleRate: 0, BitDepth: 16, Channels: 1, TickDurationMs: 20},
		{SampleRate: 48000, BitDepth: -16, Channels: 1, TickDurationMs: 20},
		{SampleRate: 48000, BitDepth: 16, Channels: 0, TickDurationMs: 20},
		{SampleRate: 48000, BitDepth: 16, Channels: 1, TickDurationMs: 0},
		// positive fields that still round down to zero slots
		{SampleRate: 999, BitDepth: 16, Channels: 1, TickDurationMs: 20},
		{SampleRate: 8000, BitDepth: 8, Channels: 1, TickDurationMs: 0},
	}
	for _, f := range invalid {
		if err := f.Validate(); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("expected ErrInvalidFormat for %s, got %v", f, err)
		}
	}
}
