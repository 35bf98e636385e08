package control

import "time"

// PSEntry is one row of a `ps` reply.
type PSEntry struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	PID           *int       `json:"pid"`
	SinceTS       *time.Time `json:"since_ts"`
	RestartCursor int        `json:"restart_cursor"`
	NextWake      *time.Time `json:"next_wake"`
}

// ExitResult mirrors a child's final exit disposition, for `stop`,
// `restart`, and `admin_command` replies.
type ExitResult struct {
	Output string `json:"output"`
	Exit   *int   `json:"exit,omitempty"`
	Signal *int   `json:"signal,omitempty"`
}

// VersionResult answers the `version` request. The reactor fills in
// Version only; GenerationTagCurrent is always 0.
type VersionResult struct {
	Version             string `json:"version"`
	GenerationTagCurrent uint64 `json:"generation_tag_current"`
}
