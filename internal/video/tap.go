package video

import (
	"sync"
)

// Tap fans captured frames out to optional sinks (live viewers, relays)
// without ever blocking the frame loop: slow subscribers lose frames.
type Tap struct {
	mu   sync.RWMutex
	subs map[*TapSubscription]bool
}

// TapSubscription receives frames until Unsubscribe is called.
type TapSubscription struct {
	C    chan Frame
	done chan struct{}
}

// Done is closed when the subscription is removed.
func (s *TapSubscription) Done() <-chan struct{} {
	return s.done
}

// NewTap creates an empty frame tap.
func NewTap() *Tap {
	return &Tap{subs: make(map[*TapSubscription]bool)}
}

// Subscribe registers a buffered frame channel.
func (t *Tap) Subscribe(bufferSize int) *TapSubscription {
	if bufferSize <= 0 {
		bufferSize = 5
	}

	sub := &TapSubscription{
		C:    make(chan Frame, bufferSize),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	t.subs[sub] = true
	t.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscription and closes its done channel.
func (t *Tap) Unsubscribe(sub *TapSubscription) {
	if sub == nil {
		return
	}

	t.mu.Lock()
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		close(sub.done)
	}
	t.mu.Unlock()
}

// Publish delivers a frame to every subscriber, dropping it for any whose
// buffer is full.
func (t *Tap) Publish(f Frame) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for sub := range t.subs {
		select {
		case sub.C <- f:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (t *Tap) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close removes all subscriptions.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs {
		close(sub.done)
		delete(t.subs, sub)
	}
}
