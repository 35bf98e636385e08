package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/briskcanopy/shepherd/internal/control"
)

type stubDispatcher struct {
	reply control.Reply
}

func (s stubDispatcher) Dispatch(control.Request) control.Reply { return s.reply }

func startStubServer(t *testing.T, reply control.Reply) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "shepherd.sock")
	srv, err := control.NewServer(socketPath, stubDispatcher{reply: reply}, nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })
	return socketPath
}

func TestClientIsReachable(t *testing.T) {
	socketPath := startStubServer(t, control.OK(nil))
	c := New(Config{SocketPath: socketPath})
	require.True(t, c.IsReachable())

	unreachable := New(Config{SocketPath: filepath.Join(t.TempDir(), "absent.sock")})
	require.False(t, unreachable.IsReachable())
}

func TestClientPSDecodesResult(t *testing.T) {
	pid := 4242
	socketPath := startStubServer(t, control.OK([]control.PSEntry{
		{Name: "web", State: "running", PID: &pid, RestartCursor: 2},
	}))
	c := New(Config{SocketPath: socketPath})

	entries, err := c.PS()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "web", entries[0].Name)
	require.Equal(t, "running", entries[0].State)
	require.NotNil(t, entries[0].PID)
	require.Equal(t, 4242, *entries[0].PID)
	require.Equal(t, 2, entries[0].RestartCursor)
}

func TestClientSimpleCommandPropagatesError(t *testing.T) {
	socketPath := startStubServer(t, control.Errorf("unknown daemon %q", "ghost"))
	c := New(Config{SocketPath: socketPath})

	err := c.Start("ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}

func TestClientStopDecodesExitResult(t *testing.T) {
	exitCode := 0
	socketPath := startStubServer(t, control.OK(control.ExitResult{Output: "bye\n", Exit: &exitCode}))
	c := New(Config{SocketPath: socketPath})

	res, err := c.Stop("web")
	require.NoError(t, err)
	require.Equal(t, "bye\n", res.Output)
	require.NotNil(t, res.Exit)
	require.Equal(t, 0, *res.Exit)
	require.Nil(t, res.Signal)
}

func TestClientRestartDecodesSignaledExit(t *testing.T) {
	signal := 15
	socketPath := startStubServer(t, control.OK(control.ExitResult{Signal: &signal}))
	c := New(Config{SocketPath: socketPath})

	res, err := c.Restart("web")
	require.NoError(t, err)
	require.Nil(t, res.Exit)
	require.NotNil(t, res.Signal)
	require.Equal(t, 15, *res.Signal)
}

func TestClientExitTriggerPropagatesError(t *testing.T) {
	socketPath := startStubServer(t, control.Errorf("daemon %q is not running", "web"))
	c := New(Config{SocketPath: socketPath})

	_, err := c.Stop("web")
	require.Error(t, err)
	require.Contains(t, err.Error(), "web")
}
