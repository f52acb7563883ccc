package clip

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"vigil/internal/motion"
	"vigil/internal/video"
)

// Encoder persists an ordered frame sequence as a video file.
type Encoder interface {
	Encode(frames []video.Frame, path string) error
}

// Result reports a finished (or failed) clip for an alert. The alert is the
// same pointer the detector emitted; the orchestrator attaches the path and
// forwards it to the dispatcher.
type Result struct {
	Alert *motion.Alert
	Path  string
	Err   error
}

// Recorder owns the rolling buffer and clip assembly. All methods except the
// encode goroutine it spawns run on the frame loop, so a confirmed run can
// never interleave frames into another run's clip.
//
// A confirmation arriving while a clip is still being assembled or encoded
// is dropped with a warning, matching the single-clip-in-flight rule.
type Recorder struct {
	buf      *Buffer
	target   int
	preLimit int
	videoDir string
	imageDir string
	enc      Encoder
	log      *zap.SugaredLogger

	active   *capture
	inFlight atomic.Bool
	results  chan Result
}

// capture accumulates the frames of one clip until it reaches target length.
type capture struct {
	alert  *motion.Alert
	frames []video.Frame
}

// Config sizes a Recorder.
type Config struct {
	// ClipFrames is the total clip length; the pre-detection part is
	// capped at half of it so every clip spans the confirmation moment.
	ClipFrames int
	VideoDir   string
	ImageDir   string
}

// NewRecorder creates a recorder with a buffer sized to ClipFrames.
func NewRecorder(cfg Config, enc Encoder, log *zap.SugaredLogger) *Recorder {
	if cfg.ClipFrames < 2 {
		cfg.ClipFrames = 2
	}
	return &Recorder{
		buf:      NewBuffer(cfg.ClipFrames),
		target:   cfg.ClipFrames,
		preLimit: cfg.ClipFrames / 2,
		videoDir: cfg.VideoDir,
		imageDir: cfg.ImageDir,
		enc:      enc,
		log:      log,
		results:  make(chan Result, 4),
	}
}

// Results delivers finalized clips. The consumer must drain it; deliveries
// block once the buffer fills.
func (r *Recorder) Results() <-chan Result {
	return r.results
}

// BufferLen exposes the current ring occupancy.
func (r *Recorder) BufferLen() int {
	return r.buf.Len()
}

// Recording reports whether a clip is being assembled or encoded.
func (r *Recorder) Recording() bool {
	return r.inFlight.Load()
}

// Record appends a frame to the rolling buffer and, when a clip is being
// assembled, to the clip. Finalization is handed to a goroutine the moment
// the clip reaches its target length; appending itself never blocks.
func (r *Recorder) Record(f video.Frame) {
	r.buf.Append(f)

	if r.active == nil {
		return
	}

	r.active.frames = append(r.active.frames, f)
	if len(r.active.frames) >= r.target {
		done := r.active
		r.active = nil
		go r.finalize(done)
	}
}

// Trigger begins clip assembly for a confirmed alert: the newest buffered
// frames become the pre-detection half, and Record fills the rest. Returns
// false when a previous clip is still in flight and the alert's clip is
// dropped.
func (r *Recorder) Trigger(alert *motion.Alert) bool {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.log.Warnw("clip already recording, skipping clip for alert",
			"alert", alert.ID, "source", alert.Source)
		return false
	}

	pre := r.buf.Tail(r.preLimit)
	r.active = &capture{alert: alert, frames: pre}
	r.log.Infow("recording clip",
		"alert", alert.ID, "pre_frames", len(pre), "target_frames", r.target)
	return true
}

// finalize encodes off the frame loop and reports the outcome. The in-flight
// flag clears before the result is delivered, so a consumer reacting to it
// can immediately trigger the next clip.
func (r *Recorder) finalize(c *capture) {
	path := r.clipPath(c.alert)
	err := r.enc.Encode(c.frames, path)
	if err != nil {
		err = fmt.Errorf("encode clip: %w", err)
		path = ""
	}

	r.inFlight.Store(false)

	// Results are control messages: block until the consumer takes it rather
	// than lose a finished clip.
	r.results <- Result{Alert: c.alert, Path: path, Err: err}
}

// SaveSnapshot writes the frame's JPEG bytes as the alert's still image and
// returns its path.
func (r *Recorder) SaveSnapshot(f video.Frame) (string, error) {
	name := fmt.Sprintf("alert_%s_%s.jpg",
		sanitizeSource(f.Source), f.Timestamp.Format("20060102_150405"))
	path := filepath.Join(r.imageDir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return path, nil
}

func (r *Recorder) clipPath(alert *motion.Alert) string {
	name := fmt.Sprintf("clip_%s_%s.mp4",
		sanitizeSource(alert.Source), alert.Timestamp.Format("20060102_150405"))
	return filepath.Join(r.videoDir, name)
}

// sanitizeSource makes a camera source safe for filenames (URLs carry
// slashes and colons). Runs of unsafe characters collapse to one dash.
func sanitizeSource(source string) string {
	var b strings.Builder
	lastDash := false
	for _, ru := range source {
		switch {
		case ru >= 'a' && ru <= 'z', ru >= 'A' && ru <= 'Z', ru >= '0' && ru <= '9',
			ru == '.', ru == '_':
			b.WriteRune(ru)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
