// Package gpio drives single output pins: plain high/low levels and the triangular "heartbeat"
// pattern used as an alive indicator on LEDs.
package gpio

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goutils "go.viam.com/utils"

	"github.com/artie-robot/artie/logging"
)

// ErrGpio is returned when the backend fails. The pin level is indeterminate afterwards.
var ErrGpio = errors.New("gpio backend error")

const (
	// PwmFrequencyHz is the carrier frequency of the heartbeat pattern.
	PwmFrequencyHz = 100

	// HeartbeatSteps is the number of duty-cycle steps in each half of the heartbeat period.
	HeartbeatSteps = 100

	// DefaultHeartbeatPeriod is the full up-and-down period of the heartbeat.
	DefaultHeartbeatPeriod = 2 * time.Second
)

// Backend performs the pin I/O. Implementations must be safe for concurrent use.
type Backend interface {
	// SetLevel drives the pin to a constant level, stopping any PWM output.
	SetLevel(high bool) error
	// Level reads the pin.
	Level() (bool, error)
	// SetDuty outputs PWM at PwmFrequencyHz with the given duty cycle in [0, 1].
	SetDuty(duty float64) error
	Close() error
}

// Line is one output pin.
type Line struct {
	name    string
	backend Backend
	logger  logging.Logger

	mu      sync.Mutex
	pattern *goutils.StoppableWorkers

	registerer prometheus.Registerer
	outputs    *prometheus.CounterVec
}

// LineOption configures a Line.
type LineOption func(*Line)

// WithRegisterer registers the line metrics on reg.
func WithRegisterer(reg prometheus.Registerer) LineOption {
	return func(l *Line) {
		l.registerer = reg
	}
}

// NewLine wraps backend as the output pin called name.
func NewLine(name string, backend Backend, logger logging.Logger, opts ...LineOption) *Line {
	l := &Line{name: name, backend: backend, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	l.outputs = promauto.With(l.registerer).NewCounterVec(prometheus.CounterOpts{
		Name: "artie_gpio_output_total",
		Help: "Number of level and pattern changes requested on a gpio line.",
	}, []string{"pin", "level"})
	return l
}

// Name returns the pin name.
func (l *Line) Name() string {
	return l.name
}

// SetHigh drives the pin high, cancelling any running pattern.
func (l *Line) SetHigh(ctx context.Context) error {
	return l.set(true)
}

// SetLow drives the pin low, cancelling any running pattern.
func (l *Line) SetLow(ctx context.Context) error {
	return l.set(false)
}

func (l *Line) set(high bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopPattern()
	l.outputs.WithLabelValues(l.name, strconv.FormatBool(high)).Inc()
	if err := l.backend.SetLevel(high); err != nil {
		return errors.Wrapf(ErrGpio, "setting %s to %v: %v", l.name, high, err)
	}
	return nil
}

// Get reads the current level of the pin.
func (l *Line) Get(ctx context.Context) (bool, error) {
	high, err := l.backend.Level()
	if err != nil {
		return false, errors.Wrapf(ErrGpio, "reading %s: %v", l.name, err)
	}
	return high, nil
}

// PulseHeartbeat starts the heartbeat pattern with the given full period. It replaces any running
// pattern and returns immediately.
func (l *Line) PulseHeartbeat(period time.Duration) error {
	if period <= 0 {
		return errors.Errorf("heartbeat period must be positive, got %v", period)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopPattern()
	l.outputs.WithLabelValues(l.name, "heartbeat").Inc()
	if err := l.backend.SetDuty(0); err != nil {
		return errors.Wrapf(ErrGpio, "starting heartbeat on %s: %v", l.name, err)
	}
	l.pattern = goutils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		l.heartbeat(ctx, period)
	})
	return nil
}

// heartbeat ramps the duty cycle up then down forever. Cancellation is checked once per step.
func (l *Line) heartbeat(ctx context.Context, period time.Duration) {
	step := period / 2 / HeartbeatSteps
	apply := func(i int) bool {
		if err := l.backend.SetDuty(float64(i) / HeartbeatSteps); err != nil {
			l.logger.Warnw("heartbeat duty change failed", "pin", l.name, "error", err)
		}
		return goutils.SelectContextOrWait(ctx, step)
	}
	for {
		for i := 0; i < HeartbeatSteps; i++ {
			if !apply(i) {
				return
			}
		}
		for i := HeartbeatSteps; i > 0; i-- {
			if !apply(i) {
				return
			}
		}
	}
}

// Running reports whether a heartbeat pattern is active.
func (l *Line) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pattern != nil
}

// Stop cancels the running pattern, if any, and waits for its worker to exit.
func (l *Line) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopPattern()
}

// stopPattern must be called with the mutex held.
func (l *Line) stopPattern() {
	if l.pattern == nil {
		return
	}
	l.pattern.Stop()
	l.pattern = nil
}

// Close stops any pattern and releases the backend.
func (l *Line) Close() error {
	l.Stop()
	return l.backend.Close()
}
