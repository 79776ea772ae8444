package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// Common codec errors
var (
	ErrBadBase64    = errors.New("malformed base64 audio payload")
	ErrOddPCMLength = errors.New("pcm16 payload must have even length")
)

// DecodeBase64 decodes a base64-encoded audio payload into raw bytes.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBase64, err)
	}
	return data, nil
}

// EncodeBase64 encodes raw audio bytes for JSON transport.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// BytesToPCM16 converts raw little-endian bytes into 16-bit signed samples.
func BytesToPCM16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddPCMLength, len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		samples[i/2] = int16(b[i]) | int16(b[i+1])<<8
	}
	return samples, nil
}

// PCM16ToBytes serializes samples back to little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(uint16(s) >> 8)
	}
	return b
}

// PCM16ToFloat32 normalizes samples into the [-1, 1) range.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 quantizes normalized samples to 16-bit signed integers.
// Inputs must already be within [-1, 1]; out-of-range values are truncated,
// not clamped, matching the browser-side capture path this relay pairs with.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(s * 32767.0)
	}
	return out
}

// RMS computes the root-mean-square energy of a sample window.
// Returns 0 for an empty window.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
