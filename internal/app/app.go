// Package app wires configuration into a running watcher process.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/clip"
	"vigil/internal/config"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/motion"
	"vigil/internal/notify"
	"vigil/internal/pipeline"
	"vigil/internal/relay"
	"vigil/internal/store"
	"vigil/internal/telegram"
	"vigil/internal/video"
)

// Options carries CLI-level settings into Run.
type Options struct {
	ConfigPath string
	// LogLevel overrides the configured level when non-empty.
	LogLevel string
}

// Run builds every component from configuration and runs the frame loop
// until the context ends. Configuration errors are fatal before the loop
// starts; afterwards only terminal stream loss stops the process.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log := logger.New(logger.ParseLevel(level))
	defer log.Sync() //nolint:errcheck // stderr sync failure is uninteresting.

	log.Infow("starting watcher",
		"camera", cfg.CameraSource, "fps", cfg.FPS,
		"detection_frames", cfg.DetectionFrames, "cooldown", cfg.Cooldown())

	for _, dir := range []string{cfg.ImageDir, cfg.VideoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}

	source := video.NewFFmpegSource(video.FFmpegConfig{
		Source:         cfg.CameraSource,
		FPS:            cfg.FPS,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxReconnects:  cfg.MaxReconnects,
	}, log)
	defer source.Close()

	recorder := clip.NewRecorder(clip.Config{
		ClipFrames: cfg.ClipFrames(),
		VideoDir:   cfg.VideoDir,
		ImageDir:   cfg.ImageDir,
	}, clip.NewFFmpegEncoder(cfg.FPS, log), log)

	m := metrics.New()

	var notifiers []notify.Notifier
	if cfg.TelegramBotToken != "" {
		bot := telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramChatID)
		if name, err := bot.GetMe(ctx); err != nil {
			log.Warnw("telegram bot check failed", "error", err)
		} else {
			log.Infow("telegram bot ready", "username", name)
		}
		notifiers = append(notifiers, notify.NewTelegramNotifier(bot))
	}
	dispatcher := notify.NewDispatcher(notifiers, 0, log)
	dispatcher.OnFailure(m.DispatchFailures.Inc)

	sound := notify.NewSoundPlayer(cfg.AlertSoundPath, log)

	var events *store.Store
	if cfg.EventDBPath != "" {
		events, err = store.Open(cfg.EventDBPath)
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		defer events.Close()
	}

	tap := video.NewTap()
	defer tap.Close()

	p := pipeline.New(pipeline.Options{
		Source:     source,
		Tap:        tap,
		Scorer:     motion.NewDiffScorer(cfg.MinContourArea),
		Detector:   motion.NewDetector(cfg.CameraSource, cfg.DetectionFrames, cfg.MovementLevel),
		Gate:       motion.NewCooldownGate(cfg.Cooldown()),
		Recorder:   recorder,
		Dispatcher: dispatcher,
		Sound:      sound,
		Events:     events,
		Metrics:    m,
		Log:        log,
	})

	g, ctx := errgroup.WithContext(ctx)

	if cfg.ListenAddress != "" {
		hub := relay.NewHub(log)
		sub := tap.Subscribe(cfg.FPS)
		g.Go(func() error {
			hub.Run(ctx, sub)
			return nil
		})
		g.Go(func() error {
			return metrics.NewServer(cfg.ListenAddress, m, hub, log).Run(ctx)
		})
	}

	if cfg.RelayURL != "" {
		restreamer := relay.NewRestreamer(cfg.CameraSource, cfg.RelayURL, cfg.ReconnectDelay, log)
		g.Go(func() error {
			restreamer.Run(ctx)
			return nil
		})
	}

	// The capture side counts its own drops; surface them on the scrape.
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		var last uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				now := source.Dropped()
				m.FramesDropped.Add(float64(now - last))
				last = now
			}
		}
	})

	g.Go(func() error {
		return p.Run(ctx)
	})

	return g.Wait()
}
