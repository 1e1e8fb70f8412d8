package audio

import (
	"sync"
)

// SampleBuffer is a thread-safe, bounded buffer of PCM samples holding the
// audio of the utterance in progress.
type SampleBuffer struct {
	samples  []int16
	capacity int // 0 means unbounded
	mu       sync.RWMutex
}

// NewSampleBuffer creates a buffer holding at most capacity samples
func NewSampleBuffer(capacity int) *SampleBuffer {
	initial := capacity
	if initial <= 0 || initial > 1<<16 {
		initial = 1 << 12
	}
	return &SampleBuffer{
		samples:  make([]int16, 0, initial),
		capacity: capacity,
	}
}

// Write appends data to the buffer.
// Returns the number of samples written (less than len(data) once full)
func (b *SampleBuffer) Write(data []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(data)
	if b.capacity > 0 {
		if space := b.capacity - len(b.samples); n > space {
			n = space
		}
	}
	b.samples = append(b.samples, data[:n]...)
	return n
}

// Snapshot returns a copy of the buffered samples
func (b *SampleBuffer) Snapshot() []int16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	return out
}

// Drain returns the buffered samples and empties the buffer
func (b *SampleBuffer) Drain() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.samples
	b.samples = make([]int16, 0, cap(out))
	return out
}

// Len returns the number of buffered samples
func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Space returns how many more samples fit, or -1 when unbounded
func (b *SampleBuffer) Space() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.capacity <= 0 {
		return -1
	}
	return b.capacity - len(b.samples)
}

// Clear clears the buffer
func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// IsEmpty returns true if the buffer is empty
func (b *SampleBuffer) IsEmpty() bool {
	return b.Len() == 0
}

// IsFull returns true if a bounded buffer has reached capacity
func (b *SampleBuffer) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity > 0 && len(b.samples) >= b.capacity
}
