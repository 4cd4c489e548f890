package audio

import (
	"encoding/binary"
	"math"
)

const pcm16Scale = 32768

func clampPCM(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Int16ToFloat32 converts signed 16-bit PCM into [-1, 1) floats.
func Int16ToFloat32(dst []float32, src []int16) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = float32(src[i]) / pcm16Scale
	}
	return n
}

// Float32ToInt16 converts floats back to 16-bit PCM, clamping anything
// outside the representable range.
func Float32ToInt16(dst []int16, src []float32) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = clampPCM(math.Round(float64(src[i]) * pcm16Scale))
	}
	return n
}

// Float32ToLinear16 encodes floats as little-endian LINEAR16 bytes.
func Float32ToLinear16(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, s := range src {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampPCM(math.Round(float64(s)*pcm16Scale))))
	}
	return out
}
