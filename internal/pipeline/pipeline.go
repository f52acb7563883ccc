// Package pipeline runs the frame loop: capture, scoring, detection,
// cooldown, dispatch and clip recording, in frame order on one goroutine.
// Everything slow (notification delivery, clip encoding) is handed off so
// the loop never stalls.
package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"

	"go.uber.org/zap"

	"vigil/internal/clip"
	"vigil/internal/metrics"
	"vigil/internal/motion"
	"vigil/internal/notify"
	"vigil/internal/store"
	"vigil/internal/video"
)

// Pipeline wires the detection chain over a single frame source.
type Pipeline struct {
	source     video.FrameSource
	tap        *video.Tap
	scorer     motion.Scorer
	detector   *motion.Detector
	gate       *motion.CooldownGate
	recorder   *clip.Recorder
	dispatcher *notify.Dispatcher
	sound      *notify.SoundPlayer
	events     *store.Store
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	prev *image.Gray

	mu         sync.Mutex
	dispatched map[string]bool
}

// Options collects the pipeline's collaborators. Dispatcher, Sound, Events
// and Tap may be nil; Metrics, Scorer, Detector, Gate and Recorder may not.
type Options struct {
	Source     video.FrameSource
	Tap        *video.Tap
	Scorer     motion.Scorer
	Detector   *motion.Detector
	Gate       *motion.CooldownGate
	Recorder   *clip.Recorder
	Dispatcher *notify.Dispatcher
	Sound      *notify.SoundPlayer
	Events     *store.Store
	Metrics    *metrics.Metrics
	Log        *zap.SugaredLogger
}

// New assembles a pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		source:     opts.Source,
		tap:        opts.Tap,
		scorer:     opts.Scorer,
		detector:   opts.Detector,
		gate:       opts.Gate,
		recorder:   opts.Recorder,
		dispatcher: opts.Dispatcher,
		sound:      opts.Sound,
		events:     opts.Events,
		metrics:    opts.Metrics,
		log:        opts.Log,
		dispatched: make(map[string]bool),
	}
}

// Run processes frames until the context is cancelled or the source fails
// terminally. A terminal source failure is the only error Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	go p.consumeClipResults(ctx)

	for {
		frame, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, video.ErrStreamUnavailable) {
				p.log.Errorw("video stream lost for good", "error", err)
				return err
			}
			p.log.Warnw("frame read failed", "error", err)
			continue
		}

		p.process(ctx, frame)
	}
}

// process runs one frame through the full chain.
func (p *Pipeline) process(ctx context.Context, frame video.Frame) {
	p.metrics.FramesProcessed.Inc()

	if p.tap != nil {
		p.tap.Publish(frame)
	}
	p.recorder.Record(frame)

	gray, err := motion.Luma(frame.Data)
	if err != nil {
		p.metrics.ScoreErrors.Inc()
		p.log.Warnw("frame decode failed", "seq", frame.Seq, "error", err)
		return
	}

	level, err := p.scorer.Score(p.prev, gray)
	p.prev = gray
	if err != nil {
		p.metrics.ScoreErrors.Inc()
		p.log.Warnw("frame scoring failed", "seq", frame.Seq, "error", err)
		return
	}
	p.metrics.MotionLevel.Set(level)

	transition, alert := p.detector.Advance(level, frame.Timestamp)
	switch transition {
	case motion.TransitionStarted:
		p.log.Debugw("movement started", "source", frame.Source, "level", level)
	case motion.TransitionEnded:
		p.log.Debugw("movement ended", "source", frame.Source)
	case motion.TransitionConfirmed:
		p.confirm(ctx, alert, frame)
	}
}

// confirm handles one confirmed detection: snapshot, clip trigger, cooldown
// decision, persistence and async dispatch.
func (p *Pipeline) confirm(ctx context.Context, alert *motion.Alert, frame video.Frame) {
	p.metrics.AlertsConfirmed.Inc()

	if path, err := p.recorder.SaveSnapshot(frame); err != nil {
		p.log.Warnw("snapshot save failed", "alert", alert.ID, "error", err)
	} else {
		alert.SnapshotPath = path
	}

	// The clip records regardless of the cooldown decision.
	triggered := p.recorder.Trigger(alert)

	allowed := p.gate.Allow(frame.Timestamp)
	if !allowed {
		p.metrics.AlertsSuppressed.Inc()
		p.log.Infow("alert suppressed by cooldown",
			"alert", alert.ID, "source", alert.Source,
			"remaining", p.gate.Remaining(frame.Timestamp))
	} else {
		p.log.Infow("movement confirmed",
			"alert", alert.ID, "source", alert.Source, "level", alert.Level)
	}

	// A dropped clip never produces a Result, so only triggered alerts get
	// an entry; the result consumer removes it again.
	if triggered {
		p.markDispatched(alert.ID, allowed)
	}
	p.saveEvent(alert, !allowed)

	if !allowed {
		return
	}

	snapshot := frame.Data
	go func() {
		if p.dispatcher != nil {
			p.dispatcher.DispatchAlert(ctx, alert, snapshot)
			if p.events != nil {
				if err := p.events.MarkNotified(alert.ID); err != nil {
					p.log.Warnw("mark notified failed", "alert", alert.ID, "error", err)
				}
			}
		}
		if p.sound != nil && p.sound.Enabled() {
			p.sound.Play(ctx)
		}
	}()
}

// consumeClipResults forwards finished clips: persistence, metrics and the
// follow-up video dispatch for alerts that passed the cooldown gate.
func (p *Pipeline) consumeClipResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-p.recorder.Results():
			p.handleClipResult(ctx, res)
		}
	}
}

func (p *Pipeline) handleClipResult(ctx context.Context, res clip.Result) {
	dispatched := p.popDispatched(res.Alert.ID)

	if res.Err != nil {
		p.metrics.EncodeFailures.Inc()
		p.log.Errorw("clip encode failed", "alert", res.Alert.ID, "error", res.Err)
		return
	}

	p.metrics.ClipsRecorded.Inc()
	res.Alert.ClipPath = res.Path
	p.log.Infow("clip ready", "alert", res.Alert.ID, "path", res.Path)

	if p.events != nil {
		if err := p.events.SetClipPath(res.Alert.ID, res.Path); err != nil {
			p.log.Warnw("store clip path failed", "alert", res.Alert.ID, "error", err)
		}
	}

	if p.dispatcher != nil && dispatched {
		go p.dispatcher.DispatchClip(ctx, res.Alert, res.Path)
	}
}

func (p *Pipeline) saveEvent(alert *motion.Alert, suppressed bool) {
	if p.events == nil {
		return
	}
	if err := p.events.SaveAlert(alert, suppressed); err != nil {
		p.log.Warnw("store alert failed", "alert", alert.ID, "error", err)
	}
}

func (p *Pipeline) markDispatched(id string, dispatched bool) {
	p.mu.Lock()
	p.dispatched[id] = dispatched
	p.mu.Unlock()
}

// popDispatched removes the alert's entry so the map only ever holds alerts
// whose clip is still in flight.
func (p *Pipeline) popDispatched(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	dispatched := p.dispatched[id]
	delete(p.dispatched, id)
	return dispatched
}

// pendingClips reports how many triggered alerts are awaiting a clip result.
func (p *Pipeline) pendingClips() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dispatched)
}
