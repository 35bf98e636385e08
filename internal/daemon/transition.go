package daemon

import (
	"fmt"
	"time"
)

// Trigger is an event the reactor feeds into Record.Transition.
type Trigger int

const (
	TriggerStart          Trigger = iota // operator start or roster (boot/reload) spawn
	TriggerSpawnSucceeded                // Child Handle.Spawn returned no error
	TriggerSpawnFailed                   // Child Handle.Spawn returned an error
	TriggerChildExited                   // the child's exit event arrived
	TriggerStop                          // operator stop
	TriggerRestart                       // operator restart (stop + restart-intent)
	TriggerKillTimerFired                // post-TERM kill deadline elapsed
	TriggerWakeTimerFired                // cooling_down wake deadline elapsed
	TriggerCancelRestart                 // operator cancel_restart
	TriggerReloadRemoved                 // reload dropped this daemon's spec
)

// ActionKind tells the reactor what side effect to perform after a
// transition. A Transition call never performs the side effect itself;
// it only computes state and returns what should happen.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSpawn
	ActionScheduleWake
	ActionInvokeStop  // run stop_command if present, else send TERM; reactor also arms kill timer
	ActionSendKill
	ActionScheduleImmediateStart // stopping -> restart-intent exit, cursor reset
	ActionEvict
)

// Action is the effect the reactor must carry out following a
// Transition call.
type Action struct {
	Kind ActionKind
	At   time.Time // meaningful for ActionScheduleWake
}

// ErrInvalidTransition reports a trigger that has no defined row for the
// Record's current state.
type ErrInvalidTransition struct {
	From    State
	Trigger Trigger
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("daemon: no transition for trigger %d from state %s", e.Trigger, e.From)
}

// Transition applies trigger to the record's current state, mutating it
// in place per the table in the component design, and returns the
// action the reactor must perform as a result. It never spawns,
// signals, or touches timers itself.
func (r *Record) Transition(trigger Trigger) (Action, error) {
	switch r.State {
	case Stopped:
		switch trigger {
		case TriggerStart:
			r.State = Starting
			return Action{Kind: ActionSpawn}, nil
		case TriggerReloadRemoved:
			r.State = Dead
			return Action{Kind: ActionEvict}, nil
		}
	case Starting:
		switch trigger {
		case TriggerSpawnSucceeded:
			r.State = Running
			r.StartedAt = time.Now()
			return Action{Kind: ActionNone}, nil
		case TriggerSpawnFailed:
			r.State = CoolingDown
			wake := r.scheduleWake()
			return Action{Kind: ActionScheduleWake, At: wake}, nil
		case TriggerReloadRemoved:
			// any-with-handle: stop it, finalize through Stopping on exit.
			r.State = Stopping
			r.RemoveIntent = true
			return Action{Kind: ActionInvokeStop}, nil
		}
	case Running:
		switch trigger {
		case TriggerChildExited:
			r.State = CoolingDown
			r.RestartCursor.MaybeReset(r.Spec.Restart, r.StartedAt, time.Now())
			wake := r.scheduleWake()
			return Action{Kind: ActionScheduleWake, At: wake}, nil
		case TriggerStop:
			r.State = Stopping
			return Action{Kind: ActionInvokeStop}, nil
		case TriggerRestart:
			r.State = Stopping
			r.RestartIntent = true
			return Action{Kind: ActionInvokeStop}, nil
		case TriggerReloadRemoved:
			r.State = Stopping
			r.RemoveIntent = true
			return Action{Kind: ActionInvokeStop}, nil
		}
	case Stopping:
		switch trigger {
		case TriggerChildExited:
			r.Handle = nil
			if r.RemoveIntent {
				r.RemoveIntent = false
				r.RestartIntent = false
				r.State = Dead
				return Action{Kind: ActionEvict}, nil
			}
			if r.RestartIntent {
				r.RestartIntent = false
				r.RestartCursor.Reset()
				r.State = Starting
				return Action{Kind: ActionScheduleImmediateStart}, nil
			}
			r.State = Stopped
			return Action{Kind: ActionNone}, nil
		case TriggerKillTimerFired:
			return Action{Kind: ActionSendKill}, nil
		case TriggerReloadRemoved:
			// already stopping from an operator stop/restart; just record
			// that the exit should evict rather than settle into stopped
			// or restart.
			r.RemoveIntent = true
			return Action{Kind: ActionNone}, nil
		}
	case CoolingDown:
		switch trigger {
		case TriggerWakeTimerFired:
			r.State = Starting
			r.NextWake = time.Time{}
			return Action{Kind: ActionSpawn}, nil
		case TriggerCancelRestart:
			r.State = Stopped
			r.ClearWake()
			return Action{Kind: ActionNone}, nil
		case TriggerReloadRemoved:
			r.State = Dead
			return Action{Kind: ActionEvict}, nil
		}
	case Dead:
		// terminal except for eviction, already handled by the reactor
	}
	return Action{}, &ErrInvalidTransition{From: r.State, Trigger: trigger}
}

// scheduleWake computes the next wake time from the restart policy and
// records it on the record.
func (r *Record) scheduleWake() time.Time {
	delay := r.RestartCursor.Advance(r.Spec.Restart)
	wake := time.Now().Add(delay)
	r.NextWake = wake
	return wake
}
