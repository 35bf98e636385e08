package logger

import (
	"fmt"
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults applied to a spawned child's stdout/stderr log
// files when Config leaves the corresponding field unset.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes where a daemon's stdout/stderr go when its spec
// requests StdoutLog. Files are named Dir/<daemon-name>.{stdout,stderr}.log.
// Rotation follows lumberjack's size/age/backup-count semantics.
type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writers opens (but does not write to) the rotated stdout and stderr
// log files for a daemon named name.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.rotatingWriter(filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name)))
	stderr := c.rotatingWriter(filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name)))
	return stdout, stderr, nil
}

func (c Config) rotatingWriter(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
