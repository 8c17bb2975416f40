// Package rexec runs external one-shot programs, such as the SWD programmer, and captures what
// they print.
package rexec

import (
	"time"
)

// ProcessConfig describes one invocation.
type ProcessConfig struct {
	Name    string        `json:"name"`
	Args    []string      `json:"args"`
	CWD     string        `json:"cwd"`
	Timeout time.Duration `json:"timeout"`
	// Log forwards the captured output to the runner's logger after the process exits.
	Log bool `json:"log"`
}

// Result is what a finished process left behind. A process that ran and exited non-zero is a
// Result, not an error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
