package lifetime

import "runtime"

// callerLocation resolves the source location of the registration site.
func callerLocation(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", 0
	}
	return file, line
}

// Go spawns a tracked goroutine running body. It does not return to the
// caller until the goroutine has registered itself, so a shutdown started
// right after Go cannot race past an unannounced worker. The entity is
// deregistered when body returns, and also on a panic before it
// propagates. Once shutdown has latched the goroutine is never started.
func (m *ManagerImpl) Go(description string, body func()) {
	file, line := callerLocation(1)
	m.goAt(description, file, line, body)
}

func (m *ManagerImpl) goAt(description, file string, line int, body func()) {
	ready := make(chan struct{})
	started := m.spawnOwned(func() {
		id := m.tracking.add(description, file, line)
		close(ready)
		defer m.tracking.remove(id)
		body()
	})
	if !started {
		return
	}
	<-ready
}

// Owned constructs a value on a dedicated owner goroutine of the default
// manager and returns it once it is registered. The owner goroutine holds
// the value until shutdown, then runs the cleanup returned by construct and
// deregisters. Each cleanup runs on its own goroutine, so a slow one only
// delays its own deregistration. If shutdown has already latched nothing is
// constructed and the zero value is returned.
func Owned[T any](description string, construct func() (T, func())) T {
	file, line := callerLocation(1)
	return ownedAt(Default(), description, file, line, construct)
}

// OwnedIn is Owned against an explicit manager.
func OwnedIn[T any](m *ManagerImpl, description string, construct func() (T, func())) T {
	file, line := callerLocation(1)
	return ownedAt(m, description, file, line, construct)
}

func ownedAt[T any](m *ManagerImpl, description, file string, line int, construct func() (T, func())) T {
	ready := make(chan T, 1)
	started := m.spawnOwned(func() {
		value, cleanup := construct()
		id := m.tracking.add(description, file, line)
		ready <- value
		m.signal.Wait()
		if cleanup != nil {
			cleanup()
		}
		m.tracking.remove(id)
	})
	if !started {
		var zero T
		return zero
	}
	return <-ready
}
