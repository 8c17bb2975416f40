package submodule

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/logging"
)

// CmdModuleIDLcd is the command family of the LCD submodule.
const CmdModuleIDLcd = 0x40

var (
	// ErrInvalidDrawing is returned when asked to draw something the display does not know.
	ErrInvalidDrawing = errors.New("invalid drawing")
	// ErrTalkUnsupported is returned by Talk on displays without a talking animation.
	ErrTalkUnsupported = errors.New("talking is not supported by this display")
)

// Drawing is what an LCD shows.
type Drawing int

// The drawings. DrawingUnknown is the state before the first command.
const (
	DrawingUnknown Drawing = iota
	Smile
	Frown
	Line
	Smirk
	Open
	OpenSmile
	ZigZag
	Talking
	Off
	Test
)

var drawingNames = map[Drawing]string{
	DrawingUnknown: "UNKNOWN",
	Smile:          "SMILE",
	Frown:          "FROWN",
	Line:           "LINE",
	Smirk:          "SMIRK",
	Open:           "OPEN",
	OpenSmile:      "OPEN-SMILE",
	ZigZag:         "ZIG-ZAG",
	Talking:        "TALKING",
	Off:            "OFF",
	Test:           "TEST",
}

var drawingVariants = map[Drawing]byte{
	Smile:     0x00,
	Frown:     0x01,
	Line:      0x02,
	Smirk:     0x03,
	Open:      0x04,
	OpenSmile: 0x05,
	ZigZag:    0x06,
	Talking:   0x07,
	Test:      0x11,
	Off:       0x22,
}

// Drawings returns the drawings accepted by Draw.
func Drawings() []Drawing {
	return []Drawing{Smile, Frown, Line, Smirk, Open, OpenSmile, ZigZag}
}

func (d Drawing) String() string {
	if name, ok := drawingNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Drawing(%d)", int(d))
}

// Command returns the I2C command byte of the drawing. Every drawing but DrawingUnknown has one.
func (d Drawing) Command() (byte, error) {
	variant, ok := drawingVariants[d]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidDrawing, "%v has no command", d)
	}
	return CmdModuleIDLcd | variant, nil
}

// ParseDrawing parses a drawing name. Case is ignored and "_" may be used for "-".
func ParseDrawing(s string) (Drawing, error) {
	norm := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", "-")
	if d, ok := lo.FindKey(drawingNames, norm); ok && d != DrawingUnknown {
		return d, nil
	}
	return DrawingUnknown, errors.Wrapf(ErrInvalidDrawing, "%q", s)
}

// LCD is the LCD submodule of one MCU.
type LCD struct {
	name    string
	addr    byte
	bus     Writer
	canTalk bool
	logger  logging.Logger

	cell
	stateMu sync.Mutex
	state   Drawing
}

// LCDOption configures an LCD.
type LCDOption func(*LCD)

// WithTalking enables the talking animation.
func WithTalking() LCDOption {
	return func(l *LCD) { l.canTalk = true }
}

// NewLCD returns the LCD submodule reported as name, driving the MCU at addr.
func NewLCD(name string, addr byte, bus Writer, logger logging.Logger, opts ...LCDOption) *LCD {
	l := &LCD{name: name, addr: addr, bus: bus, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name is the status key of the submodule.
func (l *LCD) Name() string {
	return l.name
}

// Test shows the test pattern.
func (l *LCD) Test(ctx context.Context) error {
	return l.show(ctx, Test)
}

// Off blanks the display.
func (l *LCD) Off(ctx context.Context) error {
	return l.show(ctx, Off)
}

// Talk starts the talking animation.
func (l *LCD) Talk(ctx context.Context) error {
	if !l.canTalk {
		return errors.Wrap(ErrTalkUnsupported, l.name)
	}
	return l.show(ctx, Talking)
}

// Draw parses val and draws it. Unknown drawings are rejected before any I/O.
func (l *LCD) Draw(ctx context.Context, val string) error {
	d, err := ParseDrawing(val)
	if err == nil && !lo.Contains(Drawings(), d) {
		err = errors.Wrapf(ErrInvalidDrawing, "%q", val)
	}
	if err != nil {
		l.logger.CErrorw(ctx, fmt.Sprintf("Cannot draw %s - choose from: %v", val, Drawings()), "submodule", l.name)
		return err
	}
	return l.show(ctx, d)
}

func (l *LCD) show(ctx context.Context, d Drawing) error {
	cmd, err := d.Command()
	if err != nil {
		return err
	}
	l.logger.CDebugw(ctx, "LCD request", "submodule", l.name, "drawing", d)
	if err := l.bus.Write(ctx, l.addr, uint64(cmd)); err != nil {
		return l.record(errors.Wrapf(err, "%s -> %v", l.name, d))
	}
	l.stateMu.Lock()
	l.state = d
	l.stateMu.Unlock()
	return l.record(nil)
}

// Get returns what the display last successfully showed. It performs no I/O.
func (l *LCD) Get() Drawing {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Status implements Submodule.
func (l *LCD) Status() map[string]Status {
	return map[string]Status{l.name: l.get()}
}

// SelfCheck shows the test pattern and then restores what was shown before.
func (l *LCD) SelfCheck(ctx context.Context) error {
	prev := l.Get()
	exerciseErr := l.Test(ctx)

	var restoreErr error
	restored := prev != DrawingUnknown
	if restored {
		restoreErr = l.show(ctx, prev)
	}

	status := selfCheckStatus(exerciseErr, restoreErr, restored)
	l.set(status)
	if status != Working {
		l.logger.CWarnw(ctx, "LCD self check failed", "submodule", l.name, "status", status,
			"error", multierr.Combine(exerciseErr, restoreErr))
	}
	return multierr.Combine(exerciseErr, restoreErr)
}
