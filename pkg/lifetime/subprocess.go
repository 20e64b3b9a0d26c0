package lifetime

import (
	"sync/atomic"

	"github.com/Phillezi/lifetime/pkg/metric"
	"github.com/Phillezi/lifetime/pkg/popen"
)

// Subprocess runs argv as a tracked child process. The child is registered
// in the tracked registry for its whole life, and once shutdown latches it
// receives a single SIGTERM, so an otherwise-blocked child cannot hold up
// the termination sequence. onLine receives each line of the child's
// standard output; onRuntime runs on the driver goroutine holding the
// shutdown subscription for its duration. A nil onRuntime blocks until the
// child exits, which is the idiom for "run the child until told to stop".
// The child's exit status is returned uninterpreted.
func (m *ManagerImpl) Subprocess(description string, argv []string, onLine popen.LineFunc, onRuntime popen.DriverFunc, env ...string) (int, error) {
	file, line := callerLocation(1)
	return m.subprocessAt(description, file, line, argv, onLine, onRuntime, env...)
}

func (m *ManagerImpl) subprocessAt(description, file string, line int, argv []string, onLine popen.LineFunc, onRuntime popen.DriverFunc, env ...string) (int, error) {
	m.ensureActive()

	id := m.tracking.add(description, file, line)
	defer m.tracking.remove(id)
	metric.Default().SubprocessesSpawned.Inc()

	var done atomic.Bool
	code, err := popen.Run(argv, onLine, func(rt *popen.Runtime) {
		go func() {
			<-rt.Done()
			done.Store(true)
		}()
		// Kill() is idempotent at the popen layer, so racing the user's
		// own kill path is safe. The done flag keeps the subscription from
		// signaling a child that has already been reaped.
		cancel := m.signal.Subscribe(func() {
			if !done.Load() {
				metric.Default().SubprocessesKilled.Inc()
				rt.Kill()
			}
		})
		defer cancel()
		if onRuntime != nil {
			onRuntime(rt)
		} else {
			rt.Wait()
		}
	}, env...)
	return code, err
}
