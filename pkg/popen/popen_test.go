package popen_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phillezi/lifetime/pkg/popen"
)

func TestRun_StreamsLines(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	code, err := popen.Run(
		[]string{"sh", "-c", "printf 'alpha\\nbeta\\n'"},
		func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}, nil)

	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, []string{"alpha", "beta"}, lines)
}

func TestRun_ExitStatus(t *testing.T) {
	code, err := popen.Run([]string{"sh", "-c", "exit 3"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestRun_EmptyArgv(t *testing.T) {
	_, err := popen.Run(nil, nil, nil)
	require.ErrorIs(t, err, popen.ErrEmptyArgv)
}

func TestRun_WriteToChild(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	code, err := popen.Run(
		[]string{"sh", "-c", "read x; echo got $x"},
		func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
		func(rt *popen.Runtime) {
			require.NoError(t, rt.Write("ping\n"))
			rt.Wait()
		})

	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, []string{"got ping"}, lines)
}

func TestRun_KillDeliversSIGTERM(t *testing.T) {
	start := time.Now()
	code, err := popen.Run(
		[]string{"sleep", "30"},
		nil,
		func(rt *popen.Runtime) {
			time.Sleep(50 * time.Millisecond)
			rt.Kill()
			rt.Kill() // idempotent
			rt.Wait()
		})

	require.NoError(t, err)
	assert.Equal(t, 128+15, code, "child dies of SIGTERM")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_EnvOverrides(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	code, err := popen.Run(
		[]string{"sh", "-c", "echo $LIFETIME_POPEN_TEST"},
		func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
		nil,
		"LIFETIME_POPEN_TEST=from-env")

	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, []string{"from-env"}, lines)
}

func TestRun_DoneClosesOnChildExit(t *testing.T) {
	observed := make(chan struct{})
	_, err := popen.Run(
		[]string{"true"},
		nil,
		func(rt *popen.Runtime) {
			<-rt.Done()
			close(observed)
		})
	require.NoError(t, err)

	select {
	case <-observed:
	default:
		t.Fatal("driver did not observe Done before Run returned")
	}
}
