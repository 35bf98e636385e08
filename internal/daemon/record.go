// Package daemon holds the per-daemon record and the state machine
// driving its lifecycle transitions.
package daemon

import (
	"time"

	"github.com/briskcanopy/shepherd/internal/child"
	"github.com/briskcanopy/shepherd/internal/restart"
)

// State is one of the six lifecycle states a Record can occupy.
type State string

const (
	Stopped     State = "stopped"
	Starting    State = "starting"
	Running     State = "running"
	CoolingDown State = "cooling_down"
	Stopping    State = "stopping"
	Dead        State = "dead" // transient: the reactor evicts on next pass
)

// Spec is the fully-resolved, immutable description of a daemon's
// command, identity, and restart policy for one roster generation.
type Spec struct {
	Name          string
	Start         child.Command
	Stop          child.Command
	StartPriority int
	WorkDir       string
	Env           map[string]string
	User          string
	Group         string
	StdoutMode    child.StdoutMode
	Restart       restart.Policy
	AdminCommands map[string]child.Command
	// AdminCommandOrder lists AdminCommands' keys in the order they were
	// declared in the daemon's config, for list_commands' reply.
	AdminCommandOrder []string
}

// ExitInfo records how a child last exited.
type ExitInfo struct {
	Code     int
	Signal   int // 0 when the exit was not due to a signal
	Signaled bool
	At       time.Time
}

// Record is the runtime state bundle for one named daemon. The roster
// owns every Record; a Record exclusively owns its Handle.
type Record struct {
	Spec          Spec
	State         State
	Handle        *child.Handle // non-nil iff State in {Starting, Running, Stopping}
	RestartCursor restart.Cursor
	LastExit      ExitInfo
	StartedAt     time.Time
	NextWake      time.Time // zero means unset ("∅")
	GenerationTag uint64
	RestartIntent bool // set by operator restart / reload-changed; consumed on next stopping->exit
	RemoveIntent  bool // set when reload drops this daemon's spec while it has a live Handle; consumed on next stopping->exit
}

// HasNextWake reports whether NextWake is set ("≠ ∅" in the state table).
func (r *Record) HasNextWake() bool { return !r.NextWake.IsZero() }

// ClearWake clears the scheduled wake without touching the cursor,
// as cancel_restart requires.
func (r *Record) ClearWake() { r.NextWake = time.Time{} }
