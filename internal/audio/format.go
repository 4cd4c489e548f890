package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultSampleRate     = 48000
	DefaultBitDepth       = 16
	DefaultChannels       = 1
	DefaultTickDurationMs = 20
)

var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes one mix interval. It is a plain value and never changes
// once handed to a scheduler.
type Format struct {
	SampleRate     int
	BitDepth       int
	Channels       int
	TickDurationMs int
}

func DefaultFormat() Format {
	return Format{
		SampleRate:     DefaultSampleRate,
		BitDepth:       DefaultBitDepth,
		Channels:       DefaultChannels,
		TickDurationMs: DefaultTickDurationMs,
	}
}

// SamplesPerTick returns the number of 32-bit float slots in one mix buffer.
// The order of operations matters: the rate is reduced to per-millisecond
// first, using integer division.
func (f Format) SamplesPerTick() int {
	return (f.SampleRate / 1000 * f.TickDurationMs * (f.BitDepth / 8) * f.Channels) / 4
}

func (f Format) TickDuration() time.Duration {
	return time.Duration(f.TickDurationMs) * time.Millisecond
}

func (f Format) Validate() error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{name: "sample rate", value: f.SampleRate},
		{name: "bit depth", value: f.BitDepth},
		{name: "channels", value: f.Channels},
		{name: "tick duration", value: f.TickDurationMs},
	} {
		if field.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidFormat, field.name, field.value)
		}
	}
	if n := f.SamplesPerTick(); n <= 0 {
		return fmt.Errorf("%w: samples per tick must be positive, got %d", ErrInvalidFormat, n)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch/%dms", f.SampleRate, f.BitDepth, f.Channels, f.TickDurationMs)
}
