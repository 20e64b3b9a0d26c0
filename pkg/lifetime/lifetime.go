// Package lifetime coordinates the lifetime and graceful shutdown of
// long-running programs. Every long-running unit of work (a worker
// goroutine, an owned singleton, a spawned child process) registers with a
// central tracked registry recording its description, source location and
// start time. A single process-wide shutdown signal can be raised exactly
// once; every registered worker gets the chance to observe it, cooperate
// and deregister within a bounded grace period, after which the process is
// aborted rather than left hanging.
//
// The package-level functions operate on the process-wide default manager,
// which must be activated once before use:
//
//	lifetime.Main(func() {
//		lifetime.Activate(lifetime.WithLogger(logger))
//		lifetime.Go("worker", func() {
//			lifetime.WaitUntilShutdown()
//		})
//		lifetime.Exit(0)
//	})
package lifetime

import (
	"sync"
	"time"

	"github.com/Phillezi/lifetime/pkg/popen"
)

// Manager is the lifetime and graceful-shutdown coordinator.
type Manager interface {
	// Activate marks the manager initialized and applies options such as
	// WithLogger. Activating twice is fatal; so is any registration or
	// query call before Activate.
	Activate(opts ...Option)
	// Log serializes a message through the configured sink.
	Log(msg string)
	// ShuttingDown reports whether the shutdown signal has latched.
	ShuttingDown() bool
	// NotifyOnShutdown registers fn to run exactly once on shutdown.
	NotifyOnShutdown(fn func()) (cancel func())
	// WaitUntilShutdown blocks until shutdown begins.
	WaitUntilShutdown()
	// SleepFor waits up to d or until shutdown; true iff still running.
	SleepFor(d time.Duration) bool
	// Go spawns a tracked goroutine; it returns once the goroutine has
	// registered itself.
	Go(description string, body func())
	// Subprocess runs a tracked child process, SIGTERM-ed on shutdown.
	Subprocess(description string, argv []string, onLine popen.LineFunc, onRuntime popen.DriverFunc, env ...string) (int, error)
	// Dump visits the live tracked entities, most recent first.
	Dump(visit func(TrackedInstance))
	// Snapshot copies the live tracked entities, most recent first.
	Snapshot() []TrackedInstance
	// Exit initiates shutdown and terminates the process with code, or
	// aborts after the grace period.
	Exit(code int)
	// ExitGrace is Exit with an explicit grace period.
	ExitGrace(code int, grace time.Duration)
	// WatchSignals turns SIGINT/SIGTERM into Exit(0); a second signal
	// aborts.
	WatchSignals() (stop func())
}

var _ Manager = (*ManagerImpl)(nil)

var (
	defaultOnce sync.Once
	defaultMgr  *ManagerImpl
)

// Default returns the process-wide manager, constructed on first use.
func Default() *ManagerImpl {
	defaultOnce.Do(func() {
		defaultMgr = New()
	})
	return defaultMgr
}

// Main runs body on the main goroutine, then performs the organic-exit
// protocol: if body returns without Exit having been called, the default
// manager drains the tracked registry with the default grace period and
// terminates the process with code 0. This is the guaranteed-teardown
// entrypoint for programs that just fall off the end of main.
func Main(body func()) {
	assertMainGoroutine()
	body()
	Default().organicExit()
}

// Activate activates the default manager.
func Activate(opts ...Option) { Default().Activate(opts...) }

// Log serializes a message through the default manager's sink.
func Log(msg string) { Default().Log(msg) }

// ShuttingDown reports whether the default manager is shutting down.
func ShuttingDown() bool { return Default().ShuttingDown() }

// NotifyOnShutdown subscribes fn to the default manager's shutdown signal.
func NotifyOnShutdown(fn func()) (cancel func()) { return Default().NotifyOnShutdown(fn) }

// WaitUntilShutdown blocks until the default manager begins shutdown.
func WaitUntilShutdown() { Default().WaitUntilShutdown() }

// SleepFor sleeps on the default manager; true iff still running.
func SleepFor(d time.Duration) bool { return Default().SleepFor(d) }

// Go spawns a tracked goroutine on the default manager.
func Go(description string, body func()) {
	file, line := callerLocation(1)
	Default().goAt(description, file, line, body)
}

// Subprocess runs a tracked child process on the default manager.
func Subprocess(description string, argv []string, onLine popen.LineFunc, onRuntime popen.DriverFunc, env ...string) (int, error) {
	file, line := callerLocation(1)
	return Default().subprocessAt(description, file, line, argv, onLine, onRuntime, env...)
}

// Dump visits the default manager's live tracked entities.
func Dump(visit func(TrackedInstance)) { Default().Dump(visit) }

// Snapshot copies the default manager's live tracked entities.
func Snapshot() []TrackedInstance { return Default().Snapshot() }

// Exit initiates shutdown of the default manager.
func Exit(code int) { Default().Exit(code) }

// ExitGrace initiates shutdown of the default manager with an explicit
// grace period.
func ExitGrace(code int, grace time.Duration) { Default().ExitGrace(code, grace) }

// WatchSignals starts the default manager's signal watcher.
func WatchSignals() (stop func()) { return Default().WatchSignals() }
