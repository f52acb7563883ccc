package clip

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"vigil/internal/video"
)

// FFmpegEncoder muxes buffered JPEG frames into an H.264 mp4 by piping them
// through an ffmpeg subprocess.
type FFmpegEncoder struct {
	FPS int
	log *zap.SugaredLogger
}

// NewFFmpegEncoder creates an encoder producing clips at the given frame rate.
func NewFFmpegEncoder(fps int, log *zap.SugaredLogger) *FFmpegEncoder {
	if fps < 1 {
		fps = 1
	}
	return &FFmpegEncoder{FPS: fps, log: log}
}

// Encode writes the frames to ffmpeg stdin as an mjpeg stream and waits for
// the muxed file. The frame slice is already a private copy, so Encode may
// run off the frame loop.
func (e *FFmpegEncoder) Encode(frames []video.Frame, path string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}

	args := []string{
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", strconv.Itoa(e.FPS),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		path,
	}
	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Drain stderr so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	var writeErr error
	for _, f := range frames {
		if _, err := stdin.Write(f.Data); err != nil {
			writeErr = fmt.Errorf("write frame: %w", err)
			break
		}
	}
	if err := stdin.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close ffmpeg stdin: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	if writeErr != nil {
		return writeErr
	}

	e.log.Infow("clip encoded", "path", path, "frames", len(frames))
	return nil
}
