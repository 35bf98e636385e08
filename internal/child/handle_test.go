package child

import (
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestSpawnAndWaitCleanExit(t *testing.T) {
	requireUnix(t)
	h := New(Spec{Name: "ok", Start: Command{Shell: "exit 0"}, StdoutMode: StdoutDevNull})
	require.NoError(t, h.Spawn())
	require.NotZero(t, h.PID())

	exit := h.Wait()
	require.NoError(t, exit.Err)
	require.Equal(t, 0, exit.Code)
	require.False(t, exit.Signaled)
}

func TestSpawnAndWaitNonZeroExit(t *testing.T) {
	requireUnix(t)
	h := New(Spec{Name: "bad", Start: Command{Shell: "exit 3"}, StdoutMode: StdoutDevNull})
	require.NoError(t, h.Spawn())

	exit := h.Wait()
	require.Error(t, exit.Err)
	require.Equal(t, 3, exit.Code)
	require.False(t, exit.Signaled)
}

func TestSignalDeliversAndReportsSignaledExit(t *testing.T) {
	requireUnix(t)
	h := New(Spec{Name: "sleeper", Start: Command{Shell: "sleep 5"}, StdoutMode: StdoutDevNull})
	require.NoError(t, h.Spawn())

	done := make(chan Exit, 1)
	go func() { done <- h.Wait() }()

	require.NoError(t, h.Signal(syscall.SIGTERM))

	select {
	case exit := <-done:
		require.True(t, exit.Signaled)
		require.Equal(t, int(syscall.SIGTERM), exit.Signal)
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit after SIGTERM")
	}
}

func TestSignalOnUnspawnedHandleReturnsErrNotRunning(t *testing.T) {
	h := New(Spec{Name: "never", Start: Command{Shell: "true"}})
	require.ErrorIs(t, h.Signal(syscall.SIGTERM), ErrNotRunning)
}

func TestWaitOnUnspawnedHandleReturnsErrNotRunning(t *testing.T) {
	h := New(Spec{Name: "never", Start: Command{Shell: "true"}})
	exit := h.Wait()
	require.ErrorIs(t, exit.Err, ErrNotRunning)
	require.Equal(t, -1, exit.Code)
}

func TestSpawnFailsWithoutStartCommand(t *testing.T) {
	h := New(Spec{Name: "empty"})
	require.Error(t, h.Spawn())
}

func TestSpawnHonorsWorkDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	h := New(Spec{Name: "cwd", Start: Command{Shell: "test \"$(pwd)\" = \"" + dir + "\""}, WorkDir: dir, StdoutMode: StdoutDevNull})
	require.NoError(t, h.Spawn())
	exit := h.Wait()
	require.Equal(t, 0, exit.Code)
}
