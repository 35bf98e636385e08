// Package config loads a Shepherd roster from YAML using the same
// viper + mapstructure combination the teacher repo uses for its own
// configuration, decoding the start/stop/admin command discriminated
// union (a bare string vs. a list) the same way the teacher decodes its
// process/cronjob union.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/briskcanopy/shepherd/internal/child"
	"github.com/briskcanopy/shepherd/internal/daemon"
	"github.com/briskcanopy/shepherd/internal/restart"
)

// rawCommand is the on-disk shape of a command field: either a bare
// string (run through a shell) or a list of strings (argv, exec'd
// directly). mapstructure decodes whichever shape the YAML gave as
// `any`; rawCommand.resolve interprets it.
type rawCommand struct {
	value any
}

func (c *rawCommand) resolve() (child.Command, error) {
	switch v := c.value.(type) {
	case nil:
		return child.Command{}, nil
	case string:
		return child.Command{Shell: v}, nil
	case []any:
		argv := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return child.Command{}, fmt.Errorf("command list entries must be strings, got %T", item)
			}
			argv = append(argv, s)
		}
		return child.Command{Argv: argv}, nil
	case []string:
		return child.Command{Argv: v}, nil
	default:
		return child.Command{}, fmt.Errorf("command must be a string or a list of strings, got %T", v)
	}
}

// daemonConfig is the decoded shape of one `daemons.<name>` entry, or of
// `defaults` (every field optional there).
type daemonConfig struct {
	StartCommand any               `mapstructure:"start_command"`
	StopCommand  any               `mapstructure:"stop_command"`
	StartPriority *int             `mapstructure:"start_priority"`
	Cwd           string           `mapstructure:"cwd"`
	Environment   map[string]string `mapstructure:"environment"`
	User          string           `mapstructure:"user"`
	Group         string           `mapstructure:"group"`
	Stdout        string           `mapstructure:"stdout"`
	Restart       []int            `mapstructure:"restart"`
	Commands      map[string]any   `mapstructure:"commands"`
}

// rawConfig is the full decoded YAML document.
type rawConfig struct {
	Defaults daemonConfig            `mapstructure:"defaults"`
	Daemons  map[string]daemonConfig `mapstructure:"daemons"`
}

// FileLoader implements roster.Loader by decoding a YAML roster file.
type FileLoader struct {
	Path string
}

func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// Load reads and decodes the roster file, merges `defaults` into each
// daemon entry, and returns the resolved specs. Map iteration order is
// not meaningful in Go, so specOrder's deterministic tie-break uses
// ascending daemon name rather than YAML declaration order.
func (l FileLoader) Load() (map[string]daemon.Spec, []string, error) {
	v := viper.New()
	v.SetConfigFile(l.Path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", l.Path, err)
	}

	var raw map[string]any
	if err := v.Unmarshal(&raw); err != nil {
		return nil, nil, fmt.Errorf("config: unmarshal %s: %w", l.Path, err)
	}

	var cfg rawConfig
	if defaultsRaw, ok := raw["defaults"].(map[string]any); ok {
		d, err := decodeTo[daemonConfig](defaultsRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("config: decode defaults: %w", err)
		}
		cfg.Defaults = d
	}
	daemonsRaw, _ := raw["daemons"].(map[string]any)
	cfg.Daemons = make(map[string]daemonConfig, len(daemonsRaw))
	for name, entryRaw := range daemonsRaw {
		entryMap, ok := entryRaw.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("config: daemon %q: expected a mapping", name)
		}
		d, err := decodeTo[daemonConfig](entryMap)
		if err != nil {
			return nil, nil, fmt.Errorf("config: decode daemon %q: %w", name, err)
		}
		cfg.Daemons[name] = d
	}

	cmdOrder, err := commandDeclarationOrder(l.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	out := make(map[string]daemon.Spec, len(cfg.Daemons))
	for name, d := range cfg.Daemons {
		merged := mergeDefaults(cfg.Defaults, d)
		spec, err := buildSpec(name, merged)
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		spec.AdminCommandOrder = cmdOrder[name]
		out[name] = spec
	}
	return out, specOrder(out), nil
}

// commandDeclarationOrder re-parses the roster file with a node-level YAML
// decoder to recover each daemon's `commands` key order, since viper and
// mapstructure both flatten mappings to map[string]any and lose it.
func commandDeclarationOrder(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil
	}
	daemonsNode := mappingChild(doc.Content[0], "daemons")
	if daemonsNode == nil || daemonsNode.Kind != yaml.MappingNode {
		return nil, nil
	}

	out := make(map[string][]string, len(daemonsNode.Content)/2)
	for i := 0; i+1 < len(daemonsNode.Content); i += 2 {
		name := daemonsNode.Content[i].Value
		entry := daemonsNode.Content[i+1]
		if entry.Kind != yaml.MappingNode {
			continue
		}
		commandsNode := mappingChild(entry, "commands")
		if commandsNode == nil || commandsNode.Kind != yaml.MappingNode {
			continue
		}
		names := make([]string, 0, len(commandsNode.Content)/2)
		for j := 0; j+1 < len(commandsNode.Content); j += 2 {
			names = append(names, commandsNode.Content[j].Value)
		}
		out[name] = names
	}
	return out, nil
}

// mappingChild returns the value node for key within a YAML mapping node,
// or nil if key is absent.
func mappingChild(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// specOrder computes the deterministic order Reload should use when
// inserting new specs. Go map iteration order is not meaningful and
// mapstructure/viper do not preserve YAML key order, so declaration
// order from the file can't be recovered; ascending daemon name is used
// instead as the deterministic tie-break.
func specOrder(specs map[string]daemon.Spec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mergeDefaults(defaults, entry daemonConfig) daemonConfig {
	merged := entry
	if merged.StartCommand == nil {
		merged.StartCommand = defaults.StartCommand
	}
	if merged.StopCommand == nil {
		merged.StopCommand = defaults.StopCommand
	}
	if merged.StartPriority == nil {
		merged.StartPriority = defaults.StartPriority
	}
	if merged.Cwd == "" {
		merged.Cwd = defaults.Cwd
	}
	if merged.User == "" {
		merged.User = defaults.User
	}
	if merged.Group == "" {
		merged.Group = defaults.Group
	}
	if merged.Stdout == "" {
		merged.Stdout = defaults.Stdout
	}
	if len(merged.Restart) == 0 {
		merged.Restart = defaults.Restart
	}
	env := make(map[string]string, len(defaults.Environment)+len(entry.Environment))
	for k, v := range defaults.Environment {
		env[k] = v
	}
	for k, v := range entry.Environment {
		env[k] = v
	}
	merged.Environment = env
	return merged
}

func buildSpec(name string, d daemonConfig) (daemon.Spec, error) {
	start := &rawCommand{value: d.StartCommand}
	startCmd, err := start.resolve()
	if err != nil {
		return daemon.Spec{}, fmt.Errorf("daemon %q start_command: %w", name, err)
	}
	if startCmd.Empty() {
		return daemon.Spec{}, fmt.Errorf("daemon %q requires start_command", name)
	}
	stop := &rawCommand{value: d.StopCommand}
	stopCmd, err := stop.resolve()
	if err != nil {
		return daemon.Spec{}, fmt.Errorf("daemon %q stop_command: %w", name, err)
	}

	priority := 10
	if d.StartPriority != nil {
		priority = *d.StartPriority
	}

	stdoutMode := child.StdoutConsole
	switch strings.ToLower(d.Stdout) {
	case "", "console":
		stdoutMode = child.StdoutConsole
	case "devnull", "/dev/null":
		stdoutMode = child.StdoutDevNull
	case "log":
		stdoutMode = child.StdoutLog
	default:
		return daemon.Spec{}, fmt.Errorf("daemon %q: unknown stdout mode %q", name, d.Stdout)
	}

	strategy := d.Restart
	if len(strategy) == 0 {
		strategy = []int{0}
	}
	delays := make([]time.Duration, len(strategy))
	for i, s := range strategy {
		if s < 0 {
			return daemon.Spec{}, fmt.Errorf("daemon %q: restart_strategy entries must be non-negative", name)
		}
		delays[i] = time.Duration(s) * time.Second
	}

	admin := make(map[string]child.Command, len(d.Commands))
	for cname, raw := range d.Commands {
		rc := &rawCommand{value: raw}
		cmd, err := rc.resolve()
		if err != nil {
			return daemon.Spec{}, fmt.Errorf("daemon %q command %q: %w", name, cname, err)
		}
		admin[cname] = cmd
	}

	return daemon.Spec{
		Name:          name,
		Start:         startCmd,
		Stop:          stopCmd,
		StartPriority: priority,
		WorkDir:       d.Cwd,
		Env:           d.Environment,
		User:          d.User,
		Group:         d.Group,
		StdoutMode:    stdoutMode,
		Restart:       restart.Policy{Strategy: delays},
		AdminCommands: admin,
	}, nil
}
