// Package swd programs the RP2040 MCUs over Serial Wire Debug by driving OpenOCD.
package swd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/rexec"
)

const (
	// DefaultScriptsDir is where OpenOCD looks for interface/ and target/ configs.
	DefaultScriptsDir = "/usr/local/share/openocd/scripts"

	// DefaultTimeout bounds one programming run.
	DefaultTimeout = 2 * time.Minute

	programmer = "openocd"
	targetCfg  = "target/rp2040.cfg"
)

var (
	// ErrFileNotFound is returned when the ELF or the interface file is missing. The programmer is
	// not run in that case.
	ErrFileNotFound = errors.New("file not found")
	// ErrSwdLoadFailed matches every *LoadError.
	ErrSwdLoadFailed = errors.New("swd load failed")
)

// LoadError reports a programming run that did not succeed.
type LoadError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Cause is set when the programmer could not be run to completion.
	Cause error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("swd load failed after %v: %v", e.Duration, e.Cause)
	}
	return fmt.Sprintf("swd load failed with exit code %d after %v", e.ExitCode, e.Duration)
}

// Is makes errors.Is(err, ErrSwdLoadFailed) hold.
func (e *LoadError) Is(target error) bool {
	return target == ErrSwdLoadFailed
}

// Unwrap returns the cause, if any.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Result describes a successful load.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Simulated is set when the run mode skipped the programmer.
	Simulated bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithScriptsDir overrides DefaultScriptsDir.
func WithScriptsDir(dir string) Option {
	return func(l *Loader) { l.scriptsDir = dir }
}

// WithTestMode skips running the programmer once the preconditions hold.
func WithTestMode(testMode bool) Option {
	return func(l *Loader) { l.testMode = testMode }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Loader) { l.timeout = timeout }
}

// WithRunner replaces the process runner.
func WithRunner(runner rexec.Runner) Option {
	return func(l *Loader) { l.runner = runner }
}

// WithClock replaces the clock used to time loads.
func WithClock(clk clock.Clock) Option {
	return func(l *Loader) { l.clock = clk }
}

// WithRegisterer registers the loader metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Loader) { l.registerer = reg }
}

// Loader flashes ELF images. Loads are not serialized; callers own that.
type Loader struct {
	runner     rexec.Runner
	scriptsDir string
	testMode   bool
	timeout    time.Duration
	clock      clock.Clock
	logger     logging.Logger

	registerer prometheus.Registerer
	durations  *prometheus.HistogramVec
	failures   prometheus.Counter
}

// NewLoader returns a Loader that runs OpenOCD on the local host unless told otherwise.
func NewLoader(logger logging.Logger, opts ...Option) *Loader {
	l := &Loader{
		scriptsDir: DefaultScriptsDir,
		timeout:    DefaultTimeout,
		clock:      clock.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.runner == nil {
		l.runner = rexec.NewExecRunner(logger, l.clock)
	}
	factory := promauto.With(l.registerer)
	l.durations = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artie_swd_load_seconds",
		Help:    "Histogram of SWD load durations.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"error"})
	l.failures = factory.NewCounter(prometheus.CounterOpts{
		Name: "artie_swd_errors_total",
		Help: "Number of times SWD fails.",
	})
	return l
}

// InterfacePath returns the location of an interface file name.
func (l *Loader) InterfacePath(ifaceFile string) string {
	return filepath.Join(l.scriptsDir, "interface", ifaceFile)
}

// Preflight checks that both files exist.
func (l *Loader) Preflight(elfPath, ifaceFile string) error {
	if !isFile(elfPath) {
		return errors.Wrapf(ErrFileNotFound, "firmware %q", elfPath)
	}
	if iface := l.InterfacePath(ifaceFile); !isFile(iface) {
		return errors.Wrapf(ErrFileNotFound, "swd interface %q", iface)
	}
	return nil
}

// Load programs elfPath through the interface ifaceFile and resets the target.
func (l *Loader) Load(ctx context.Context, elfPath, ifaceFile string) (Result, error) {
	if err := l.Preflight(elfPath, ifaceFile); err != nil {
		l.logger.Errorw("cannot load firmware", "error", err)
		return Result{}, err
	}

	args := []string{
		"-f", "interface/" + ifaceFile,
		"-f", targetCfg,
		"-c", fmt.Sprintf("program %s verify reset exit", elfPath),
	}
	if l.testMode {
		l.logger.Infow("mocking swd command", "command", programmer, "args", args)
		return Result{Simulated: true}, nil
	}

	l.logger.Infof("Attempting to load %s into MCU...", elfPath)
	start := l.clock.Now()
	res, err := l.runner.Run(ctx, rexec.ProcessConfig{
		Name:    programmer,
		Args:    args,
		CWD:     l.scriptsDir,
		Timeout: l.timeout,
	})
	duration := l.clock.Since(start)

	failed := err != nil || res.ExitCode != 0
	l.durations.WithLabelValues(strconv.FormatBool(failed)).Observe(duration.Seconds())
	if !failed {
		l.logger.Infow("loaded firmware", "elf", elfPath, "duration", duration)
		return Result{Stdout: res.Stdout, Stderr: res.Stderr, Duration: duration}, nil
	}

	l.failures.Inc()
	loadErr := &LoadError{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: duration,
		Cause:    err,
	}
	l.logger.Errorw("non-zero return code when attempting to load firmware; MCU may be non-responsive",
		"exit_code", res.ExitCode, "stdout", res.Stdout, "stderr", res.Stderr, "error", err)
	return Result{}, loadErr
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
