package lifetime

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logCapture collects manager log lines for assertions.
type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *logCapture) option() Option {
	return WithLogger(funcr.New(func(prefix, args string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, args)
	}, funcr.Options{}))
}

func (c *logCapture) contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestManager_CooperativeExit(t *testing.T) {
	logs := &logCapture{}
	exitCh := make(chan int, 1)
	m := New(
		logs.option(),
		WithExitFunc(func(code int) { exitCh <- code }),
		WithAbortFunc(func() { t.Error("unexpected abort") }),
	)
	m.Activate()

	m.Go("cooperative worker", func() {
		m.WaitUntilShutdown()
	})

	m.ExitGrace(0, 2*time.Second)

	select {
	case code := <-exitCh:
		assert.Zero(t, code)
	default:
		t.Fatal("exit hook not invoked")
	}
	assert.True(t, logs.contains("Gone after"), "expected a Gone-after line for the worker")
	assert.True(t, logs.contains("cooperative worker"))
	assert.True(t, logs.contains("all done"))
}

func TestManager_UncooperativeWorkerAborts(t *testing.T) {
	logs := &logCapture{}
	aborted := make(chan struct{}, 1)
	m := New(
		logs.option(),
		WithExitFunc(func(code int) { t.Errorf("unexpected exit with code %d", code) }),
		WithAbortFunc(func() { aborted <- struct{}{} }),
	)
	m.Activate()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	m.Go("stubborn worker", func() {
		<-block
	})

	m.ExitGrace(0, 200*time.Millisecond)

	select {
	case <-aborted:
	default:
		t.Fatal("abort hook not invoked")
	}
	assert.True(t, logs.contains("Offender: stubborn worker"))
	assert.True(t, logs.contains("still has offenders"))
}

func TestManager_ConsecutiveExitIgnored(t *testing.T) {
	logs := &logCapture{}
	exitCh := make(chan int, 2)
	m := New(logs.option(), WithExitFunc(func(code int) { exitCh <- code }))
	m.Activate()

	m.ExitGrace(0, time.Second)
	m.ExitGrace(1, time.Second)

	require.Len(t, exitCh, 1)
	assert.True(t, logs.contains("Ignoring a consecutive call"))
}

func TestManager_GoAfterExitNeverStarts(t *testing.T) {
	m := New(logs(t))
	m.Activate()
	m.signal.Set()

	m.Go("late worker", func() {
		t.Error("body of a late worker must never run")
	})

	assert.Empty(t, m.Snapshot())
}

func TestManager_GoRegistersBeforeReturning(t *testing.T) {
	m := New(logs(t))
	m.Activate()

	release := make(chan struct{})
	m.Go("handshaked worker", func() { <-release })

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "handshaked worker", snap[0].Description)
	assert.Equal(t, "managerImpl_test.go", snap[0].Base)
	close(release)
}

func TestManager_GoDeregistersOnPanic(t *testing.T) {
	m := New(logs(t))
	m.Activate()

	recovered := make(chan struct{})
	m.Go("panicking worker", func() {
		defer func() {
			_ = recover()
			close(recovered)
		}()
		panic("boom")
	})

	<-recovered
	require.Eventually(t, func() bool { return len(m.Snapshot()) == 0 },
		time.Second, 5*time.Millisecond, "panicking worker must still deregister")
}

func TestManager_DoubleActivateAborts(t *testing.T) {
	m := New(logs(t), WithAbortFunc(func() { panic("abort") }))
	m.Activate()

	require.PanicsWithValue(t, "abort", func() { m.Activate() })
}

func TestManager_UseBeforeActivateAborts(t *testing.T) {
	m := New(logs(t), WithAbortFunc(func() { panic("abort") }))

	require.PanicsWithValue(t, "abort", func() { m.Go("too early", func() {}) })
}

func TestManager_SleepFor(t *testing.T) {
	m := New(logs(t))
	m.Activate()

	require.True(t, m.SleepFor(5*time.Millisecond))

	m.signal.Set()
	start := time.Now()
	require.False(t, m.SleepFor(10*time.Second))
	assert.Less(t, time.Since(start), time.Second, "SleepFor must return promptly once shutdown latched")
}

func TestManager_NotifyOnShutdownExactlyOnce(t *testing.T) {
	m := New(logs(t))
	m.Activate()

	var before, after atomic.Int32
	m.NotifyOnShutdown(func() { before.Add(1) })

	m.signal.Set()
	m.signal.Set()

	m.NotifyOnShutdown(func() { after.Add(1) })

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestManager_OrganicExit(t *testing.T) {
	logs := &logCapture{}
	exitCh := make(chan int, 1)
	m := New(logs.option(), WithExitFunc(func(code int) { exitCh <- code }))
	m.Activate()

	m.Go("short worker", func() {
		m.SleepFor(20 * time.Millisecond)
	})

	m.organicExit()

	select {
	case code := <-exitCh:
		assert.Zero(t, code)
	default:
		t.Fatal("organic exit did not reach the exit hook")
	}
	assert.True(t, logs.contains("terminating organically"))
}

func TestManager_OwnedConstructsAndCleansUp(t *testing.T) {
	logs := &logCapture{}
	exitCh := make(chan int, 1)
	m := New(logs.option(), WithExitFunc(func(code int) { exitCh <- code }))
	m.Activate()

	var cleaned atomic.Bool
	v := OwnedIn(m, "owned counter", func() (*atomic.Int64, func()) {
		c := &atomic.Int64{}
		c.Store(42)
		return c, func() { cleaned.Store(true) }
	})
	require.NotNil(t, v)
	assert.Equal(t, int64(42), v.Load())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "owned counter", snap[0].Description)

	m.ExitGrace(0, 2*time.Second)

	assert.True(t, cleaned.Load(), "cleanup must run before deregistration")
	assert.Zero(t, <-exitCh)
}

func TestManager_OwnedAfterShutdownReturnsZero(t *testing.T) {
	m := New(logs(t))
	m.Activate()
	m.signal.Set()

	v := OwnedIn(m, "never built", func() (*atomic.Int64, func()) {
		t.Error("construct must not run after shutdown latched")
		return &atomic.Int64{}, nil
	})
	assert.Nil(t, v)
}

func TestManager_WatchSignalsTriggersExit(t *testing.T) {
	logs := &logCapture{}
	exitCh := make(chan int, 1)
	sigCh := make(chan os.Signal, 2)
	m := New(
		logs.option(),
		WithExitFunc(func(code int) { exitCh <- code }),
		WithSignalChannel(sigCh),
	)
	m.Activate()

	stop := m.WatchSignals()
	defer stop()

	sigCh <- syscall.SIGTERM

	select {
	case code := <-exitCh:
		assert.Zero(t, code)
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not translate into an exit")
	}
	assert.True(t, logs.contains("Received signal"))
}

func TestManager_DumpDefaultVisitorLogs(t *testing.T) {
	logs := &logCapture{}
	m := New(logs.option())
	m.Activate()

	release := make(chan struct{})
	m.Go("dumped worker", func() { <-release })

	m.Dump(nil)
	close(release)

	assert.True(t, logs.contains("dumped worker @"))
}

// logs is the throwaway capture option for tests that never assert on log
// output.
func logs(t *testing.T) Option {
	t.Helper()
	c := &logCapture{}
	return c.option()
}
