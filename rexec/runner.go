package rexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/artie-robot/artie/logging"
)

// Runner runs a process to completion.
type Runner interface {
	Run(ctx context.Context, config ProcessConfig) (Result, error)
}

// ErrTimeout is returned when a process outlives its configured timeout.
var ErrTimeout = errors.New("process timed out")

// ExecRunner runs processes on the local host.
type ExecRunner struct {
	logger logging.Logger
	clock  clock.Clock
}

// NewExecRunner returns a Runner backed by os/exec. A nil clk uses the wall clock.
func NewExecRunner(logger logging.Logger, clk clock.Clock) *ExecRunner {
	if clk == nil {
		clk = clock.New()
	}
	return &ExecRunner{logger: logger, clock: clk}
}

// Run starts the process and waits for it. It fails if the process cannot be started, is killed
// by ctx, or exceeds config.Timeout.
func (r *ExecRunner) Run(ctx context.Context, config ProcessConfig) (Result, error) {
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	//nolint:gosec
	cmd := exec.CommandContext(ctx, config.Name, config.Args...)
	cmd.Dir = config.CWD
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debugw("running process", "name", config.Name, "args", strings.Join(config.Args, " "))
	start := r.clock.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: r.clock.Since(start),
	}
	if config.Log {
		r.logger.Infow("process output", "name", config.Name, "stdout", result.Stdout, "stderr", result.Stderr)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, errors.Wrapf(ErrTimeout, "%s after %v", config.Name, result.Duration)
		}
		return result, errors.Wrapf(ctxErr, "running %s", config.Name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, errors.Wrapf(err, "starting %s", config.Name)
	}
	return result, nil
}
