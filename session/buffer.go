package session

import (
	"errors"
	"sync"
	"time"
)

// MicSampleRate is the rate of the 16-bit mono PCM clients record.
const MicSampleRate = 16000

// ErrBufferFull is returned when a chunk would push the buffer past its limit
var ErrBufferFull = errors.New("voice buffer full")

// VoiceBuffer collects mic chunks for one utterance until end_turn.
type VoiceBuffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	size    int
	maxSize int
}

// NewVoiceBuffer creates a buffer holding at most maxSize bytes
func NewVoiceBuffer(maxSize int) *VoiceBuffer {
	return &VoiceBuffer{maxSize: maxSize}
}

// MaxSize returns the byte limit
func (vb *VoiceBuffer) MaxSize() int {
	return vb.maxSize
}

// Append adds a chunk. Empty chunks are ignored.
func (vb *VoiceBuffer) Append(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if vb.size+len(chunk) > vb.maxSize {
		return ErrBufferFull
	}
	vb.chunks = append(vb.chunks, chunk)
	vb.size += len(chunk)
	return nil
}

// Flush returns the utterance in arrival order and empties the buffer.
// A trailing odd byte is dropped so the result is whole 16-bit samples.
func (vb *VoiceBuffer) Flush() []byte {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if vb.size == 0 {
		return nil
	}
	out := make([]byte, 0, vb.size)
	for _, c := range vb.chunks {
		out = append(out, c...)
	}
	vb.chunks, vb.size = nil, 0
	return out[:len(out)&^1]
}

// Clear drops everything buffered
func (vb *VoiceBuffer) Clear() {
	vb.mu.Lock()
	vb.chunks, vb.size = nil, 0
	vb.mu.Unlock()
}

// Size returns the buffered byte count
func (vb *VoiceBuffer) Size() int {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	return vb.size
}

// IsEmpty reports whether nothing is buffered
func (vb *VoiceBuffer) IsEmpty() bool {
	return vb.Size() == 0
}

// ChunkCount returns the number of buffered chunks
func (vb *VoiceBuffer) ChunkCount() int {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	return len(vb.chunks)
}

// Duration is how much speech is buffered at MicSampleRate.
func (vb *VoiceBuffer) Duration() time.Duration {
	return time.Duration(vb.Size()/2) * time.Second / MicSampleRate
}
