package reactor

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/briskcanopy/shepherd/internal/child"
	"github.com/briskcanopy/shepherd/internal/config"
	"github.com/briskcanopy/shepherd/internal/control"
	"github.com/briskcanopy/shepherd/internal/daemon"
	"github.com/briskcanopy/shepherd/internal/restart"
	"github.com/briskcanopy/shepherd/pkg/client"
)

// mutableLoader lets a test change the roster a reload will observe,
// including fields (AdminCommands, priority) config.SimpleLoader can't
// express.
type mutableLoader struct {
	mu    sync.Mutex
	specs map[string]daemon.Spec
	order []string
}

func (l *mutableLoader) Load() (map[string]daemon.Spec, []string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]daemon.Spec, len(l.specs))
	for k, v := range l.specs {
		out[k] = v
	}
	return out, append([]string(nil), l.order...), nil
}

func (l *mutableLoader) set(specs map[string]daemon.Spec, order []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = specs
	l.order = order
}

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func testLoader(entries ...string) config.SimpleLoader {
	return config.SimpleLoader{
		Entries: entries,
		Defaults: config.SimpleDefaults{
			StdoutMode:    child.StdoutDevNull,
			RestartDelays: []time.Duration{10 * time.Millisecond},
		},
	}
}

func startReactor(t *testing.T, loader config.SimpleLoader) (*Reactor, *client.Client, func()) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "shepherd.sock")
	r, err := New(Config{
		Loader:       loader,
		SocketPath:   socketPath,
		KillDeadline: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- r.Run(ctx) }()

	c := client.New(client.Config{SocketPath: socketPath, Timeout: 2 * time.Second})
	require.Eventually(t, c.IsReachable, time.Second, 5*time.Millisecond)

	return r, c, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reactor did not shut down")
		}
	}
}

func TestReactorBootSpawnsAndReportsPS(t *testing.T) {
	requireUnix(t)
	_, c, stop := startReactor(t, testLoader("web=sleep 5"))
	defer stop()

	var entries []control.PSEntry
	require.Eventually(t, func() bool {
		var err error
		entries, err = c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, "web", entries[0].Name)
	require.NotNil(t, entries[0].PID)
}

func TestReactorStopBlocksUntilExit(t *testing.T) {
	requireUnix(t)
	_, c, stop := startReactor(t, testLoader("web=sleep 5"))
	defer stop()

	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, time.Second, 10*time.Millisecond)

	res, err := c.Stop("web")
	require.NoError(t, err)
	require.NotNil(t, res.Signal)

	entries, err := c.PS()
	require.NoError(t, err)
	require.Equal(t, string(daemon.Stopped), entries[0].State)
}

func TestReactorStopUnknownDaemon(t *testing.T) {
	requireUnix(t)
	_, c, stop := startReactor(t, testLoader())
	defer stop()

	_, err := c.Stop("ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}

func TestReactorVersionReportsConfigured(t *testing.T) {
	requireUnix(t)
	socketPath := filepath.Join(t.TempDir(), "shepherd.sock")
	r, err := New(Config{Loader: testLoader(), SocketPath: socketPath, Version: "1.2.3"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	c := client.New(client.Config{SocketPath: socketPath, Timeout: time.Second})
	require.Eventually(t, c.IsReachable, time.Second, 5*time.Millisecond)

	v, err := c.Version()
	require.NoError(t, err)
	require.Equal(t, "1.2.3", v.Version)
}

func TestReactorRestartRearmsDaemon(t *testing.T) {
	requireUnix(t)
	_, c, stop := startReactor(t, testLoader("web=sleep 5"))
	defer stop()

	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, time.Second, 10*time.Millisecond)

	_, err := c.Restart("web")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReactorReloadChangedRespawnsWithNewSpecOnce(t *testing.T) {
	requireUnix(t)

	loader := &mutableLoader{}
	loader.set(map[string]daemon.Spec{
		"web": {
			Name:              "web",
			Start:             child.Command{Shell: "sleep 5"},
			StdoutMode:        child.StdoutDevNull,
			Restart:           restart.Policy{Strategy: []time.Duration{10 * time.Millisecond}},
			AdminCommands:     map[string]child.Command{"ping": {Shell: "true"}},
			AdminCommandOrder: []string{"ping"},
		},
	}, []string{"web"})

	socketPath := filepath.Join(t.TempDir(), "shepherd.sock")
	r, err := New(Config{Loader: loader, SocketPath: socketPath, KillDeadline: 200 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reactor did not shut down")
		}
	}()

	c := client.New(client.Config{SocketPath: socketPath, Timeout: 2 * time.Second})
	require.Eventually(t, c.IsReachable, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, time.Second, 10*time.Millisecond)

	// Changed spec: same daemon name, different start_priority and a
	// different set of admin commands in a non-alphabetical declaration
	// order, while the old handle (a sleeping child) is still running.
	loader.set(map[string]daemon.Spec{
		"web": {
			Name:              "web",
			Start:             child.Command{Shell: "sleep 5"},
			StartPriority:     7,
			StdoutMode:        child.StdoutDevNull,
			Restart:           restart.Policy{Strategy: []time.Duration{10 * time.Millisecond}},
			AdminCommands:     map[string]child.Command{"status": {Shell: "true"}, "info": {Shell: "true"}},
			AdminCommandOrder: []string{"status", "info"},
		},
	}, []string{"web"})

	require.NoError(t, c.Reload())

	// The old handle's exit must still be honored under its own
	// generation, so the daemon respawns instead of getting stuck in
	// "stopping" forever.
	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, 2*time.Second, 10*time.Millisecond)

	names, err := c.ListCommands("web")
	require.NoError(t, err)
	require.Equal(t, []string{"status", "info"}, names)
}

func TestReactorReloadRemovedWhileRunningEventuallyEvicts(t *testing.T) {
	requireUnix(t)

	loader := &mutableLoader{}
	loader.set(map[string]daemon.Spec{
		"web": {
			Name:       "web",
			Start:      child.Command{Shell: "sleep 5"},
			StdoutMode: child.StdoutDevNull,
			Restart:    restart.Policy{Strategy: []time.Duration{10 * time.Millisecond}},
		},
	}, []string{"web"})

	socketPath := filepath.Join(t.TempDir(), "shepherd.sock")
	r, err := New(Config{Loader: loader, SocketPath: socketPath, KillDeadline: 200 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reactor did not shut down")
		}
	}()

	c := client.New(client.Config{SocketPath: socketPath, Timeout: 2 * time.Second})
	require.Eventually(t, c.IsReachable, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 1 && entries[0].State == string(daemon.Running)
	}, time.Second, 10*time.Millisecond)

	loader.set(map[string]daemon.Spec{}, nil)
	require.NoError(t, c.Reload())

	// The daemon was removed while running: it must transition through
	// stopping to dead and be evicted, never resurface as "stopped".
	require.Eventually(t, func() bool {
		entries, err := c.PS()
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
