package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/briskcanopy/shepherd/internal/child"
	"github.com/briskcanopy/shepherd/internal/daemon"
	"github.com/briskcanopy/shepherd/internal/restart"
)

// SimpleLoader builds a roster from `--exec NAME=COMMAND` flags when no
// config file is given, merged with command-line defaults.
type SimpleLoader struct {
	Entries  []string // "name=command" pairs as given on the command line
	Defaults SimpleDefaults
}

// SimpleDefaults mirrors the subset of daemonConfig a flag-only roster
// can set.
type SimpleDefaults struct {
	Cwd           string
	Environment   map[string]string
	User          string
	Group         string
	StdoutMode    child.StdoutMode
	RestartDelays []time.Duration
}

func (l SimpleLoader) Load() (map[string]daemon.Spec, []string, error) {
	out := make(map[string]daemon.Spec, len(l.Entries))
	var order []string
	for _, entry := range l.Entries {
		i := strings.IndexByte(entry, '=')
		if i < 0 {
			return nil, nil, fmt.Errorf("config: --exec entry %q must be NAME=COMMAND", entry)
		}
		name := strings.TrimSpace(entry[:i])
		command := strings.TrimSpace(entry[i+1:])
		if name == "" || command == "" {
			return nil, nil, fmt.Errorf("config: --exec entry %q must be NAME=COMMAND", entry)
		}
		delays := l.Defaults.RestartDelays
		if len(delays) == 0 {
			delays = []time.Duration{0}
		}
		out[name] = daemon.Spec{
			Name:          name,
			Start:         child.Command{Shell: command},
			StartPriority: 10,
			WorkDir:       l.Defaults.Cwd,
			Env:           l.Defaults.Environment,
			User:          l.Defaults.User,
			Group:         l.Defaults.Group,
			StdoutMode:    l.Defaults.StdoutMode,
			Restart:       restart.Policy{Strategy: delays},
		}
		order = append(order, name)
	}
	return out, order, nil
}
