package admincmd

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/briskcanopy/shepherd/internal/child"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	requireUnix(t)
	res, err := Run(context.Background(), child.Command{Shell: "echo hi"}, "", nil)
	require.NoError(t, err)
	require.Equal(t, "hi\n", res.Output)
	require.Equal(t, 0, res.Code)
	require.False(t, res.Signaled)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	requireUnix(t)
	res, err := Run(context.Background(), child.Command{Shell: "exit 7"}, "", nil)
	require.NoError(t, err)
	require.Equal(t, 7, res.Code)
	require.False(t, res.Signaled)
}

func TestRunEmptyCommandIsNoop(t *testing.T) {
	res, err := Run(context.Background(), child.Command{}, "", nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.Code)
	require.Empty(t, res.Output)
}

func TestRunKilledByContextReportsSignal(t *testing.T) {
	requireUnix(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := Run(ctx, child.Command{Shell: "sleep 5"}, "", nil)
	require.NoError(t, err)
	require.True(t, r.Signaled)
}

func TestRunTruncatesOversizedOutput(t *testing.T) {
	requireUnix(t)
	res, err := Run(context.Background(), child.Command{Shell: "yes | head -c 200000"}, "", nil)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Output), ringLimit+len(truncatedMarker))
	require.Contains(t, res.Output, "[truncated]")
}

func TestRunHonorsWorkDirAndEnv(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	res, err := Run(context.Background(), child.Command{Shell: "pwd; echo $GREETING"}, dir, []string{"GREETING=hello"})
	require.NoError(t, err)
	require.Contains(t, res.Output, dir)
	require.Contains(t, res.Output, "hello")
}
