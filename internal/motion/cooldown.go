package motion

import "time"

// CooldownGate suppresses repeat alerts inside a fixed interval. It is a
// hard suppressor: a denied alert is dropped, not delayed. Mutated only from
// the frame loop, so it needs no lock.
type CooldownGate struct {
	interval  time.Duration
	lastAlert time.Time
	armed     bool
}

// NewCooldownGate creates a gate with the given minimum interval between
// allowed alerts. A zero interval allows everything.
func NewCooldownGate(interval time.Duration) *CooldownGate {
	return &CooldownGate{interval: interval}
}

// Allow reports whether an alert at `now` may be dispatched, and records it
// as the last alert time when it may.
func (g *CooldownGate) Allow(now time.Time) bool {
	if g.armed && now.Sub(g.lastAlert) < g.interval {
		return false
	}
	g.lastAlert = now
	g.armed = true
	return true
}

// Remaining returns how long until the next alert would be allowed.
func (g *CooldownGate) Remaining(now time.Time) time.Duration {
	if !g.armed {
		return 0
	}
	left := g.interval - now.Sub(g.lastAlert)
	if left < 0 {
		return 0
	}
	return left
}
