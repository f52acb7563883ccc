package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FFmpegSource captures frames by running ffmpeg with an image2pipe MJPEG
// output and slicing complete JPEG images out of its stdout. It owns the
// reconnect logic: when the process dies or stops producing frames it backs
// off and restarts, up to MaxReconnects attempts (-1 retries forever).
type FFmpegSource struct {
	source         string
	fps            int
	reconnectDelay time.Duration
	maxReconnects  int
	log            *zap.SugaredLogger

	frames  chan Frame
	stopCh  chan struct{}
	stopped sync.Once

	mu      sync.Mutex
	cmd     *exec.Cmd
	termErr error

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// FFmpegConfig configures an FFmpegSource.
type FFmpegConfig struct {
	// Source is a device index ("0"), device path or rtsp/http URL.
	Source string
	// FPS is the requested output frame rate.
	FPS int
	// ReconnectDelay is the base backoff between reconnect attempts. The
	// delay doubles per consecutive failure, capped at one minute.
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive failed attempts; -1 means infinite.
	MaxReconnects int
	// Buffer is the frame queue depth; frames are dropped when the
	// consumer falls behind so the scorer always sees recent frames.
	Buffer int
}

// NewFFmpegSource starts the capture goroutine immediately.
func NewFFmpegSource(cfg FFmpegConfig, log *zap.SugaredLogger) *FFmpegSource {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}

	s := &FFmpegSource{
		source:         cfg.Source,
		fps:            cfg.FPS,
		reconnectDelay: cfg.ReconnectDelay,
		maxReconnects:  cfg.MaxReconnects,
		log:            log,
		frames:         make(chan Frame, cfg.Buffer),
		stopCh:         make(chan struct{}),
	}

	go s.run()
	return s
}

// Next returns the next captured frame in order.
func (s *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			s.mu.Lock()
			err := s.termErr
			s.mu.Unlock()
			if err == nil {
				err = ErrStreamUnavailable
			}
			return Frame{}, err
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close stops the capture process and releases the device handle.
func (s *FFmpegSource) Close() error {
	s.stopped.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.cmd != nil && s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.mu.Unlock()
	})
	return nil
}

// Dropped reports how many frames were discarded because the consumer was
// slower than the capture rate.
func (s *FFmpegSource) Dropped() uint64 {
	return s.dropped.Load()
}

// run owns the connect/capture/reconnect cycle until Close or retry
// exhaustion.
func (s *FFmpegSource) run() {
	defer close(s.frames)

	attempts := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		start := time.Now()
		err := s.capture()

		select {
		case <-s.stopCh:
			return
		default:
		}

		// A long successful run resets the failure streak.
		if time.Since(start) > time.Minute {
			attempts = 0
		}
		attempts++

		if s.maxReconnects >= 0 && attempts > s.maxReconnects {
			s.mu.Lock()
			s.termErr = fmt.Errorf("%w: %d reconnect attempts failed: %v",
				ErrStreamUnavailable, attempts, err)
			s.mu.Unlock()
			s.log.Errorw("capture gave up", "source", s.source, "attempts", attempts, "error", err)
			return
		}

		delay := backoff(s.reconnectDelay, attempts)
		s.log.Warnw("capture ended, reconnecting",
			"source", s.source, "attempt", attempts, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-s.stopCh:
			return
		}
	}
}

// backoff doubles the base delay per attempt, capped at one minute.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// capture runs one ffmpeg process to completion, pushing every complete JPEG
// it produces into the frame queue.
func (s *FFmpegSource) capture() error {
	cmd := exec.Command("ffmpeg", s.buildArgs()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	// Drain stderr so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-s.stopCh:
			cmd.Process.Kill()
			cmd.Wait()
			return nil
		default:
		}

		n, err := stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				var jpg []byte
				jpg, buf = SplitJPEG(buf)
				if jpg == nil {
					break
				}
				s.push(jpg)
			}
		}
		if err != nil {
			cmd.Wait()
			if err == io.EOF {
				return fmt.Errorf("ffmpeg stream ended")
			}
			return fmt.Errorf("read ffmpeg output: %w", err)
		}
	}
}

func (s *FFmpegSource) push(jpg []byte) {
	f := Frame{
		Source:    s.source,
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		Data:      jpg,
	}
	select {
	case s.frames <- f:
	default:
		s.dropped.Add(1)
	}
}

// buildArgs assembles the ffmpeg invocation for the source kind.
func (s *FFmpegSource) buildArgs() []string {
	rate := strconv.Itoa(s.fps)

	switch {
	case strings.HasPrefix(s.source, "rtsp://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-i", s.source,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", rate,
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(s.source, "http://"), strings.HasPrefix(s.source, "https://"):
		return []string{
			"-i", s.source,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", rate,
			"-q:v", "5",
			"-",
		}
	default:
		return []string{
			"-f", "v4l2",
			"-framerate", rate,
			"-i", DevicePath(s.source),
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}
}

// DevicePath maps a bare index like "0" to /dev/video0; anything else passes
// through unchanged.
func DevicePath(source string) string {
	if n, err := strconv.Atoi(source); err == nil {
		return fmt.Sprintf("/dev/video%d", n)
	}
	return source
}

// SplitJPEG extracts the first complete JPEG image (FFD8...FFD9) from buf.
// It returns the image and the remaining bytes, or nil and buf unchanged
// when no complete image is present yet.
func SplitJPEG(buf []byte) (jpg, rest []byte) {
	if len(buf) < 4 {
		return nil, buf
	}

	start := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, buf
	}

	end := -1
	for i := start + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		return nil, buf
	}

	jpg = make([]byte, end-start)
	copy(jpg, buf[start:end])
	return jpg, buf[end:]
}

var _ FrameSource = (*FFmpegSource)(nil)
