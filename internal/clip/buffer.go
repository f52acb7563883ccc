// Package clip keeps a rolling window of recent frames and turns confirmed
// detections into bounded video clips spanning the moment of detection.
package clip

import (
	"vigil/internal/video"
)

// Buffer is a fixed-capacity frame ring. The frame loop appends every frame
// regardless of detection state, so a snapshot always carries pre-detection
// context. Oldest frames are evicted once capacity is reached; the buffer
// never grows past it.
//
// Buffer is not safe for concurrent use. The frame loop is its only writer,
// and snapshots are copies handed to the encoder, never live views.
type Buffer struct {
	frames []video.Frame
	start  int
	count  int
}

// NewBuffer creates a ring holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{frames: make([]video.Frame, capacity)}
}

// Append adds a frame, evicting the oldest when full.
func (b *Buffer) Append(f video.Frame) {
	if b.count < len(b.frames) {
		b.frames[(b.start+b.count)%len(b.frames)] = f
		b.count++
		return
	}
	b.frames[b.start] = f
	b.start = (b.start + 1) % len(b.frames)
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.frames)
}

// Snapshot returns the buffered frames oldest-first as a fresh slice. The
// ring keeps accepting frames afterwards; the snapshot is unaffected.
func (b *Buffer) Snapshot() []video.Frame {
	out := make([]video.Frame, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.frames[(b.start+i)%len(b.frames)]
	}
	return out
}

// Tail returns a snapshot of at most the n newest frames, oldest-first.
func (b *Buffer) Tail(n int) []video.Frame {
	if n >= b.count {
		return b.Snapshot()
	}
	out := make([]video.Frame, n)
	for i := 0; i < n; i++ {
		out[i] = b.frames[(b.start+b.count-n+i)%len(b.frames)]
	}
	return out
}
