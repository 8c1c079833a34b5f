// Package audio decodes synthesized speech and plays one clip at a time.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// SampleRate of synthesized speech.
	SampleRate = 24000
	// Channels of synthesized speech.
	Channels = 1
)

// ErrOddLength means the payload is not a whole number of 16-bit samples.
var ErrOddLength = errors.New("audio: pcm payload has an odd number of bytes")

// Buffer is decoded little-endian 16-bit PCM.
type Buffer struct {
	Samples    []float32
	Raw        []byte
	SampleRate int
	Channels   int
}

// Frames is the number of samples per channel.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration is the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds is Duration as a float.
func (b *Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Decode turns base64 PCM into a 24 kHz mono buffer.
func Decode(encoded string) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return FromPCM(raw)
}

// FromPCM wraps raw little-endian 16-bit samples.
func FromPCM(raw []byte) (*Buffer, error) {
	if len(raw)%2 != 0 {
		return nil, ErrOddLength
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return &Buffer{Samples: samples, Raw: raw, SampleRate: SampleRate, Channels: Channels}, nil
}
