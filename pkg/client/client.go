// Package client is a thin Go API over Shepherd's control socket, for
// embedding in other programs that want to drive a running supervisor
// without shelling out to shepherdctl.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/briskcanopy/shepherd/internal/control"
)

// Config holds client configuration.
type Config struct {
	SocketPath string
	Timeout    time.Duration
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		SocketPath: "/var/run/shepherd/control",
		Timeout:    10 * time.Second,
	}
}

// Client sends one request per connection over Shepherd's Unix control
// socket, matching the protocol's no-pipelining rule.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// New creates a client bound to a control socket path.
func New(cfg Config) *Client {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultConfig().SocketPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{socketPath: cfg.SocketPath, timeout: cfg.Timeout}
}

// IsReachable reports whether the control socket accepts connections.
func (c *Client) IsReachable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Do sends req and returns the decoded Reply.
func (c *Client) Do(req control.Request) (control.Reply, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return control.Reply{}, fmt.Errorf("client: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return control.Reply{}, fmt.Errorf("client: set deadline: %w", err)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return control.Reply{}, fmt.Errorf("client: marshal request: %w", err)
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return control.Reply{}, fmt.Errorf("client: write request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return control.Reply{}, fmt.Errorf("client: read reply: %w", err)
		}
		return control.Reply{}, fmt.Errorf("client: no reply from %s", c.socketPath)
	}

	var reply control.Reply
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
		return control.Reply{}, fmt.Errorf("client: decode reply: %w", err)
	}
	return reply, nil
}

// PS asks for the full daemon roster status.
func (c *Client) PS() ([]control.PSEntry, error) {
	reply, err := c.Do(control.Request{Command: "ps"})
	if err != nil {
		return nil, err
	}
	if reply.Status != "ok" {
		return nil, fmt.Errorf("client: ps: %s", reply.Message)
	}
	return decodeResult[[]control.PSEntry](reply.Result)
}

// Version asks the daemon for its version. The reply's
// GenerationTagCurrent field is always 0.
func (c *Client) Version() (control.VersionResult, error) {
	reply, err := c.Do(control.Request{Command: "version"})
	if err != nil {
		return control.VersionResult{}, err
	}
	if reply.Status != "ok" {
		return control.VersionResult{}, fmt.Errorf("client: version: %s", reply.Message)
	}
	return decodeResult[control.VersionResult](reply.Result)
}

// Start requests a daemon be started.
func (c *Client) Start(name string) error {
	return c.simple("start", name)
}

// Stop requests a daemon be stopped, blocking until it exits, and
// returns the exit disposition the daemon finished with.
func (c *Client) Stop(name string) (control.ExitResult, error) {
	return c.exitTrigger("stop", name)
}

// Restart requests a daemon be stopped and respawned, blocking until
// the stop completes, and returns the exit disposition the outgoing
// instance finished with.
func (c *Client) Restart(name string) (control.ExitResult, error) {
	return c.exitTrigger("restart", name)
}

func (c *Client) exitTrigger(command, name string) (control.ExitResult, error) {
	reply, err := c.Do(control.Request{Command: command, Daemon: name})
	if err != nil {
		return control.ExitResult{}, err
	}
	if reply.Status != "ok" {
		return control.ExitResult{}, fmt.Errorf("client: %s: %s", command, reply.Message)
	}
	return decodeResult[control.ExitResult](reply.Result)
}

// CancelRestart cancels a pending cooling-down restart.
func (c *Client) CancelRestart(name string) error {
	return c.simple("cancel_restart", name)
}

// Reload re-reads the roster file and applies the diff.
func (c *Client) Reload() error {
	reply, err := c.Do(control.Request{Command: "reload"})
	if err != nil {
		return err
	}
	if reply.Status != "ok" {
		return fmt.Errorf("client: reload: %s", reply.Message)
	}
	return nil
}

// ListCommands lists the admin commands configured for a daemon.
func (c *Client) ListCommands(name string) ([]string, error) {
	reply, err := c.Do(control.Request{Command: "list_commands", Daemon: name})
	if err != nil {
		return nil, err
	}
	if reply.Status != "ok" {
		return nil, fmt.Errorf("client: list_commands: %s", reply.Message)
	}
	return decodeResult[[]string](reply.Result)
}

// AdminCommand runs a named admin command against a daemon and returns
// its captured output and exit disposition.
func (c *Client) AdminCommand(name, command string) (control.ExitResult, error) {
	reply, err := c.Do(control.Request{Command: "admin_command", Daemon: name, AdminCommand: command})
	if err != nil {
		return control.ExitResult{}, err
	}
	if reply.Status != "ok" {
		return control.ExitResult{}, fmt.Errorf("client: admin_command: %s", reply.Message)
	}
	return decodeResult[control.ExitResult](reply.Result)
}

func (c *Client) simple(command, name string) error {
	reply, err := c.Do(control.Request{Command: command, Daemon: name})
	if err != nil {
		return err
	}
	if reply.Status != "ok" {
		return fmt.Errorf("client: %s: %s", command, reply.Message)
	}
	return nil
}

// decodeResult round-trips reply.Result (already decoded as a generic
// any by encoding/json) through JSON once more into T, since the
// transport only knows Reply.Result as interface{}.
func decodeResult[T any](result any) (T, error) {
	var out T
	b, err := json.Marshal(result)
	if err != nil {
		return out, fmt.Errorf("client: re-encode result: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("client: decode result: %w", err)
	}
	return out, nil
}
