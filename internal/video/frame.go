// Package video acquires timestamped JPEG frames from a camera device or
// network stream and fans them out to the detection pipeline and optional
// sinks.
package video

import (
	"context"
	"errors"
	"time"
)

// Frame is a single captured image. Data holds the encoded JPEG bytes and is
// never mutated after capture; downstream consumers treat it as read-only.
type Frame struct {
	Source    string
	Seq       uint64
	Timestamp time.Time
	Data      []byte
}

// ErrStreamUnavailable reports that the capture source is gone and reconnect
// attempts are exhausted. It is the only fatal condition in the pipeline.
var ErrStreamUnavailable = errors.New("video stream unavailable")

// FrameSource produces a sequential stream of frames. Next blocks until a
// frame arrives, the context is cancelled, or the source fails terminally
// with ErrStreamUnavailable.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}
