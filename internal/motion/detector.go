package motion

import (
	"time"

	"github.com/google/uuid"
)

// State is the detector's position in a movement run.
type State int

const (
	// StateIdle means no movement run is in progress.
	StateIdle State = iota
	// StateAccumulating means movement was seen on 1..required-1
	// consecutive frames.
	StateAccumulating
	// StateConfirmed means the run reached the required length and its
	// single alert has been emitted.
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Transition describes what a frame's score did to the detector state.
type Transition int

const (
	// TransitionNone: state unchanged.
	TransitionNone Transition = iota
	// TransitionStarted: a new movement run began.
	TransitionStarted
	// TransitionConfirmed: the run reached the required consecutive-frame
	// count; an Alert is emitted with it.
	TransitionConfirmed
	// TransitionEnded: a sub-threshold frame broke the run.
	TransitionEnded
)

// Alert is one confirmed detection. ClipPath and SnapshotPath are filled in
// after recording completes; the alert itself is consumed exactly once by
// the dispatcher.
type Alert struct {
	ID           string
	Source       string
	Timestamp    time.Time
	Level        float64
	SnapshotPath string
	ClipPath     string
}

// Detector is the per-stream detection state machine. It is not safe for
// concurrent use: Advance must be called from the frame loop only, in frame
// order.
type Detector struct {
	source    string
	required  int
	threshold float64

	state State
	count int
}

// NewDetector creates a detector requiring `required` consecutive frames at
// or above `threshold` before confirming.
func NewDetector(source string, required int, threshold float64) *Detector {
	if required < 1 {
		required = 1
	}
	return &Detector{
		source:    source,
		required:  required,
		threshold: threshold,
	}
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// Count returns the current consecutive-frame count.
func (d *Detector) Count() int {
	return d.count
}

// Advance feeds one movement score into the state machine and returns the
// resulting transition, plus the Alert when the transition is Confirmed.
//
// The consecutive counter is strict: a single sub-threshold frame resets the
// run to idle, it does not decay gradually.
func (d *Detector) Advance(level float64, ts time.Time) (Transition, *Alert) {
	if level < d.threshold {
		if d.state == StateIdle {
			return TransitionNone, nil
		}
		d.state = StateIdle
		d.count = 0
		return TransitionEnded, nil
	}

	switch d.state {
	case StateIdle:
		d.count = 1
		if d.count >= d.required {
			d.state = StateConfirmed
			return TransitionConfirmed, d.newAlert(level, ts)
		}
		d.state = StateAccumulating
		return TransitionStarted, nil

	case StateAccumulating:
		d.count++
		if d.count >= d.required {
			d.state = StateConfirmed
			return TransitionConfirmed, d.newAlert(level, ts)
		}
		return TransitionNone, nil

	default: // StateConfirmed
		// Continuous movement after confirmation emits nothing more:
		// one alert per run, independent of the cooldown gate.
		return TransitionNone, nil
	}
}

// Reset returns the detector to idle, discarding any run in progress.
func (d *Detector) Reset() {
	d.state = StateIdle
	d.count = 0
}

func (d *Detector) newAlert(level float64, ts time.Time) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		Source:    d.source,
		Timestamp: ts,
		Level:     level,
	}
}
