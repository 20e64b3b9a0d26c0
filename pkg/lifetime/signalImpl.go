package lifetime

import (
	"sync"
	"sync/atomic"
	"time"
)

// shutdownSignal is the single-shot process shutdown flag. It latches once,
// never reverts, and notifies every subscriber exactly once: either on the
// latch transition or, for late subscribers, synchronously at subscription
// time.
type shutdownSignal struct {
	latched atomic.Bool

	mu      sync.Mutex
	ch      chan struct{}
	nextSub uint64
	subs    map[uint64]func()
}

func newShutdownSignal() *shutdownSignal {
	return &shutdownSignal{
		ch:   make(chan struct{}),
		subs: make(map[uint64]func()),
	}
}

// Latched reports whether the signal has been set. O(1), lock-free.
func (s *shutdownSignal) Latched() bool {
	return s.latched.Load()
}

// Subscribe registers fn to run once when the signal latches. If the signal
// has already latched, fn runs synchronously before Subscribe returns. The
// returned cancel detaches the subscription; it is idempotent and safe to
// call after the callback has fired.
func (s *shutdownSignal) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	if s.latched.Load() {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set latches the signal and reports the previous value. The first caller
// observes false and owns the shutdown sequence. Callbacks are erased from
// the subscriber table before they are invoked, so each fires at most once
// even against racing Subscribe and cancel calls, and they run outside the
// lock so they may freely call back into the signal.
func (s *shutdownSignal) Set() (previous bool) {
	s.mu.Lock()
	if s.latched.Load() {
		s.mu.Unlock()
		return true
	}
	s.latched.Store(true)
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subs = make(map[uint64]func())
	close(s.ch)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return false
}

// Wait blocks until the signal has latched.
func (s *shutdownSignal) Wait() {
	<-s.ch
}

// WaitFor blocks up to d and reports whether the signal was observed.
func (s *shutdownSignal) WaitFor(d time.Duration) bool {
	if s.latched.Load() {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}
