package submodule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/logging"
)

// CmdModuleIDLeds is the command family of the LED submodule.
const CmdModuleIDLeds = 0x00

// DefaultSelfCheckDelay is how long each LED level is held during a self check.
const DefaultSelfCheckDelay = 100 * time.Millisecond

// ErrInvalidLedState is returned when parsing an unknown LED state.
var ErrInvalidLedState = errors.New("invalid LED state")

// LedState is the last LED state successfully set.
type LedState int

// The LED states.
const (
	LedUnknown LedState = iota
	LedOn
	LedOff
	LedHeartbeat
)

func (s LedState) String() string {
	switch s {
	case LedOn:
		return "on"
	case LedOff:
		return "off"
	case LedHeartbeat:
		return "heartbeat"
	case LedUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("LedState(%d)", int(s))
	}
}

// Command returns the I2C command byte for the state.
func (s LedState) Command() (byte, error) {
	switch s {
	case LedOn:
		return CmdModuleIDLeds | 0x00, nil
	case LedOff:
		return CmdModuleIDLeds | 0x01, nil
	case LedHeartbeat:
		return CmdModuleIDLeds | 0x02, nil
	case LedUnknown:
	}
	return 0, errors.Wrapf(ErrInvalidLedState, "%v has no command", s)
}

// ParseLedState parses "on", "off", or "heartbeat", ignoring case.
func ParseLedState(s string) (LedState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return LedOn, nil
	case "off":
		return LedOff, nil
	case "heartbeat":
		return LedHeartbeat, nil
	default:
		return LedUnknown, errors.Wrapf(ErrInvalidLedState, "%q", s)
	}
}

// LED is the LED submodule of one MCU.
type LED struct {
	name   string
	addr   byte
	bus    Writer
	delay  time.Duration
	logger logging.Logger

	cell
	stateMu sync.Mutex
	state   LedState
}

// LEDOption configures an LED.
type LEDOption func(*LED)

// WithSelfCheckDelay overrides DefaultSelfCheckDelay.
func WithSelfCheckDelay(d time.Duration) LEDOption {
	return func(l *LED) { l.delay = d }
}

// NewLED returns the LED submodule reported as name, driving the MCU at addr.
func NewLED(name string, addr byte, bus Writer, logger logging.Logger, opts ...LEDOption) *LED {
	l := &LED{name: name, addr: addr, bus: bus, delay: DefaultSelfCheckDelay, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name is the status key of the submodule.
func (l *LED) Name() string {
	return l.name
}

// On turns the LED on.
func (l *LED) On(ctx context.Context) error {
	return l.Set(ctx, LedOn)
}

// Off turns the LED off.
func (l *LED) Off(ctx context.Context) error {
	return l.Set(ctx, LedOff)
}

// Heartbeat makes the MCU pulse the LED.
func (l *LED) Heartbeat(ctx context.Context) error {
	return l.Set(ctx, LedHeartbeat)
}

// Set drives the LED to state.
func (l *LED) Set(ctx context.Context, state LedState) error {
	cmd, err := state.Command()
	if err != nil {
		return err
	}
	l.logger.CDebugw(ctx, "LED request", "submodule", l.name, "state", state)
	if err := l.bus.Write(ctx, l.addr, uint64(cmd)); err != nil {
		return l.record(errors.Wrapf(err, "%s -> %v", l.name, state))
	}
	l.stateMu.Lock()
	l.state = state
	l.stateMu.Unlock()
	return l.record(nil)
}

// Get returns the last state successfully set. It performs no I/O.
func (l *LED) Get() LedState {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Status implements Submodule.
func (l *LED) Status() map[string]Status {
	return map[string]Status{l.name: l.get()}
}

// SelfCheck blinks the LED on then off and restores the previous state.
func (l *LED) SelfCheck(ctx context.Context) error {
	prev := l.Get()

	var exerciseErr error
	exerciseErr = multierr.Append(exerciseErr, l.On(ctx))
	exerciseErr = multierr.Append(exerciseErr, wait(ctx, l.delay))
	exerciseErr = multierr.Append(exerciseErr, l.Off(ctx))
	exerciseErr = multierr.Append(exerciseErr, wait(ctx, l.delay))

	var restoreErr error
	restored := prev != LedUnknown
	if restored {
		restoreErr = l.Set(ctx, prev)
	}

	status := selfCheckStatus(exerciseErr, restoreErr, restored)
	l.set(status)
	if status != Working {
		l.logger.CWarnw(ctx, "LED self check failed", "submodule", l.name, "status", status,
			"error", multierr.Combine(exerciseErr, restoreErr))
	}
	return multierr.Combine(exerciseErr, restoreErr)
}
