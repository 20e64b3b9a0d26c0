package lifetime

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/Phillezi/lifetime/pkg/metric"
)

// DefaultGrace is the grace period used by Exit and by the organic exit
// protocol, for both the registry drain and the goroutine join.
const DefaultGrace = 2 * time.Second

// abortCode is the exit code of the abort path, matching the conventional
// code of a SIGABRT death.
const abortCode = 134

// Option defines a functional option for ManagerImpl.
type Option func(*ManagerImpl)

// WithLogger sets the log sink. Messages from the manager serialize
// through it.
func WithLogger(l logr.Logger) Option {
	return func(m *ManagerImpl) {
		m.logger = l
	}
}

// WithExitFunc replaces the cooperative-exit call (default os.Exit).
func WithExitFunc(f func(code int)) Option {
	return func(m *ManagerImpl) {
		m.exitFn = f
	}
}

// WithAbortFunc replaces the abort call used on grace timeouts and
// programmer errors (default os.Exit(134)).
func WithAbortFunc(f func()) Option {
	return func(m *ManagerImpl) {
		m.abortFn = f
	}
}

// WithGrace sets the default grace period for Exit and the organic exit.
func WithGrace(d time.Duration) Option {
	return func(m *ManagerImpl) {
		m.grace = d
	}
}

// WithSignalChannel allows using a custom channel for shutdown signals
// (useful for tests).
func WithSignalChannel(ch <-chan os.Signal) Option {
	return func(m *ManagerImpl) {
		m.signalCh = ch
	}
}

// WithPrompt enables the second-Ctrl+C prompt on the given writer
// (stderr when none is given).
func WithPrompt(enabled bool, w ...io.Writer) Option {
	return func(m *ManagerImpl) {
		if !enabled {
			return
		}
		var wr io.Writer = os.Stderr
		for _, ww := range w {
			if ww != nil {
				wr = ww
				break
			}
		}
		m.prompt = wr
	}
}

// ManagerImpl is the concrete lifetime manager. The process-wide instance
// is reachable through Default and the package-level helpers; tests build
// their own with New and injected exit hooks.
type ManagerImpl struct {
	initialized atomic.Bool

	loggerMu sync.Mutex
	logger   logr.Logger

	signal   *shutdownSignal
	tracking *trackedRegistry

	ownedMu sync.Mutex
	owned   []chan struct{}

	grace    time.Duration
	exitFn   func(code int)
	abortFn  func()
	prompt   io.Writer
	signalCh <-chan os.Signal
}

// New creates a manager with functional options. The manager still needs
// Activate before any registration or query call.
func New(opts ...Option) *ManagerImpl {
	m := &ManagerImpl{
		logger:   stdr.New(log.New(os.Stderr, "lifetime: ", log.LstdFlags)),
		signal:   newShutdownSignal(),
		tracking: newTrackedRegistry(),
		grace:    DefaultGrace,
		exitFn:   os.Exit,
	}
	m.abortFn = func() { os.Exit(abortCode) }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Activate marks the manager initialized and applies any further options,
// typically WithLogger. Calling Activate twice is fatal.
func (m *ManagerImpl) Activate(opts ...Option) {
	m.loggerMu.Lock()
	for _, opt := range opts {
		opt(m)
	}
	m.loggerMu.Unlock()
	if m.initialized.Swap(true) {
		m.log("Called Activate() twice, aborting.")
		m.abortFn()
	}
}

// Log serializes a message through the sink.
func (m *ManagerImpl) Log(msg string) {
	m.loggerMu.Lock()
	defer m.loggerMu.Unlock()
	m.logger.Info(msg)
}

func (m *ManagerImpl) log(msg string) { m.Log(msg) }

// ensureActive is the gate for every registration and query call.
func (m *ManagerImpl) ensureActive() {
	if !m.initialized.Load() {
		m.log("Used before Activate(), aborting.")
		m.abortFn()
	}
}

// ShuttingDown reports whether the shutdown signal has latched. O(1).
func (m *ManagerImpl) ShuttingDown() bool {
	return m.signal.Latched()
}

// NotifyOnShutdown registers fn to run exactly once when shutdown begins.
// If shutdown has already latched, fn runs before NotifyOnShutdown returns.
// The returned cancel detaches the subscription.
func (m *ManagerImpl) NotifyOnShutdown(fn func()) (cancel func()) {
	m.ensureActive()
	return m.signal.Subscribe(fn)
}

// WaitUntilShutdown blocks the caller until shutdown begins. This is the
// terminal wait of owner goroutines and forever-running workers.
func (m *ManagerImpl) WaitUntilShutdown() {
	m.ensureActive()
	m.signal.Wait()
}

// SleepFor waits up to d or until shutdown begins, whichever comes first,
// and returns true iff shutdown has not latched. Use it in place of
// time.Sleep inside tracked workers.
func (m *ManagerImpl) SleepFor(d time.Duration) bool {
	m.ensureActive()
	return !m.signal.WaitFor(d)
}

// spawnOwned starts body on a goroutine the manager will join during exit.
// Once shutdown has latched no new work is started and spawnOwned reports
// false.
func (m *ManagerImpl) spawnOwned(body func()) bool {
	m.ensureActive()
	m.ownedMu.Lock()
	defer m.ownedMu.Unlock()
	if m.signal.Latched() {
		return false
	}
	done := make(chan struct{})
	m.owned = append(m.owned, done)
	metric.Default().OwnedGoroutines.Inc()
	go func() {
		defer close(done)
		body()
	}()
	return true
}

// Dump visits every live tracked entity in natural ID order, most recent
// first. A nil visitor logs each entity's short form.
func (m *ManagerImpl) Dump(visit func(TrackedInstance)) {
	m.ensureActive()
	if visit == nil {
		visit = func(t TrackedInstance) { m.log(t.ShortString()) }
	}
	m.tracking.dump(visit)
}

// Snapshot returns a copy of the live tracked entities in natural ID
// order, most recent first.
func (m *ManagerImpl) Snapshot() []TrackedInstance {
	m.ensureActive()
	out := make([]TrackedInstance, 0)
	m.tracking.dump(func(t TrackedInstance) { out = append(out, t) })
	return out
}

// Exit initiates the shutdown sequence with the default grace period and
// terminates the process with code on cooperative success.
func (m *ManagerImpl) Exit(code int) {
	m.ExitGrace(code, m.grace)
}

// ExitGrace is Exit with an explicit grace period, applied to both the
// registry drain and the goroutine join. Only the first call initiates the
// sequence; consecutive calls are ignored.
func (m *ManagerImpl) ExitGrace(code int, grace time.Duration) {
	if m.signal.Set() {
		m.log("Ignoring a consecutive call to Exit().")
		return
	}
	metric.Default().ShutdownLatched.Set(1)
	m.log("Exit() called, initiating termination sequence.")
	m.doExit(code, grace)
}

// doExit runs the termination protocol: wait up to grace for the tracked
// registry to drain, then up to grace again for the owned goroutines to
// join, and either exit with code or abort.
func (m *ManagerImpl) doExit(code int, grace time.Duration) {
	t0 := time.Now()
	remaining := m.tracking.snapshot()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	drained := false
	expired := false
	for {
		changed := m.tracking.watch()
		live := m.tracking.snapshot()
		for id, t := range remaining {
			if _, ok := live[id]; !ok {
				m.log(fmt.Sprintf("Gone after %.3fs: %s", time.Since(t0).Seconds(), t.ShortString()))
				delete(remaining, id)
			}
		}
		if len(live) == 0 {
			drained = true
			break
		}
		if expired {
			break
		}
		select {
		case <-changed:
		case <-timer.C:
			expired = true
		}
	}

	if !drained {
		m.log("")
		m.log("Exit() termination sequence unsuccessful, still has offenders.")
		m.tracking.dump(func(t TrackedInstance) { m.log("Offender: " + t.ShortString()) })
		m.log("")
		m.log("Exit() time to abort.")
		m.abortFn()
		return
	}

	m.log("Exit() termination sequence successful, joining the presumably-done goroutines.")
	m.ownedMu.Lock()
	owned := m.owned
	m.owned = nil
	m.ownedMu.Unlock()

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		for _, done := range owned {
			<-done
			metric.Default().OwnedGoroutines.Dec()
		}
	}()

	joinTimer := time.NewTimer(grace)
	defer joinTimer.Stop()
	select {
	case <-joined:
		m.log("Exit() termination sequence successful, all goroutines joined.")
		m.log("Exit() termination sequence successful, all done.")
		m.exitFn(code)
	case <-joinTimer.C:
		m.log("")
		m.log("Exit() uncooperative goroutines remain, time to abort.")
		m.abortFn()
	}
}

// organicExit is the teardown path for programs that return from Main
// without calling Exit: if the signal was never latched, run the default
// exit protocol with exit code 0.
func (m *ManagerImpl) organicExit() {
	if m.signal.Set() {
		return
	}
	metric.Default().ShutdownLatched.Set(1)
	m.log("")
	m.log("The program is terminating organically.")
	m.doExit(0, m.grace)
}

// WatchSignals translates the first SIGINT/SIGTERM into Exit(0) and a
// second one into an abort. It returns a stop function detaching the
// watcher.
func (m *ManagerImpl) WatchSignals() (stop func()) {
	m.ensureActive()

	sigCh := m.signalCh
	var notified chan os.Signal
	if sigCh == nil {
		notified = make(chan os.Signal, 2)
		signal.Notify(notified, syscall.SIGINT, syscall.SIGTERM)
		sigCh = notified
	}
	quit := make(chan struct{})

	go func() {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			m.log(fmt.Sprintf("Received signal %v, initiating termination sequence.", sig))
			if m.prompt != nil {
				shutdownPrompt(m.prompt)
			}
			go m.Exit(0)
		case <-quit:
			return
		}
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			m.log(fmt.Sprintf("Received second signal %v, aborting.", sig))
			m.abortFn()
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if notified != nil {
				signal.Stop(notified)
			}
			close(quit)
		})
	}
}
