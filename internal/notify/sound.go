package notify

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// SoundPlayer plays a local alert sound through ffplay. A missing or failing
// player is a warning, not an error; the host may have no audio at all.
type SoundPlayer struct {
	path string
	log  *zap.SugaredLogger
}

// NewSoundPlayer creates a player for the sound file at path. An empty path
// disables playback.
func NewSoundPlayer(path string, log *zap.SugaredLogger) *SoundPlayer {
	return &SoundPlayer{path: path, log: log}
}

// Enabled reports whether a sound file is configured.
func (p *SoundPlayer) Enabled() bool {
	return p.path != ""
}

// Play runs ffplay to completion. Callers run it in a goroutine so the frame
// loop never waits on audio.
func (p *SoundPlayer) Play(ctx context.Context) {
	if p.path == "" {
		return
	}
	cmd := exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", p.path)
	if err := cmd.Run(); err != nil {
		p.log.Warnw("alert sound playback failed", "path", p.path, "error", err)
	}
}

// Send makes the player usable as a Notifier: the text and attachment are
// ignored, only the sound plays.
func (p *SoundPlayer) Send(ctx context.Context, _ string, _ *Attachment) error {
	if p.path == "" {
		return fmt.Errorf("no alert sound configured")
	}
	p.Play(ctx)
	return nil
}
