package relay

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Restreamer pushes the camera stream to an RTMP endpoint by running ffmpeg
// in copy mode, so no transcoding happens on this host. It restarts ffmpeg
// with a fixed delay until the context ends.
type Restreamer struct {
	source       string
	target       string
	restartDelay time.Duration
	log          *zap.SugaredLogger
}

// NewRestreamer relays source (an rtsp/http URL) to target (an rtmp URL).
func NewRestreamer(source, target string, restartDelay time.Duration, log *zap.SugaredLogger) *Restreamer {
	if restartDelay <= 0 {
		restartDelay = 3 * time.Second
	}
	return &Restreamer{
		source:       source,
		target:       target,
		restartDelay: restartDelay,
		log:          log,
	}
}

// Run relays until the context is cancelled. ffmpeg exits are logged and
// retried; the relay never brings the detection pipeline down.
func (r *Restreamer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		r.log.Infow("starting rtmp relay", "source", r.source, "target", r.target)
		if err := r.relay(ctx); err != nil && ctx.Err() == nil {
			r.log.Warnw("rtmp relay exited", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.restartDelay):
		}
	}
}

func (r *Restreamer) relay(ctx context.Context) error {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	if strings.HasPrefix(r.source, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", r.source,
		"-c", "copy",
		"-f", "flv",
		r.target,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			r.log.Debugw("relay ffmpeg", "line", scanner.Text())
		}
	}()

	return cmd.Wait()
}
