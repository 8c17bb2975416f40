// Package reset resets peripheral MCUs by logical ID. It maps an ID onto the reset-bus addresses
// of the board and sends one request per address to the reset MCU's driver.
package reset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/logging"
)

// ErrInvalidMcuID is returned when parsing an unknown MCU ID.
var ErrInvalidMcuID = errors.New("invalid MCU ID")

// DefaultTargetTimeout bounds each per-address reset request.
const DefaultTargetTimeout = 10 * time.Second

// McuID identifies one MCU or a group of them.
type McuID int

// The known MCU IDs.
const (
	All McuID = iota
	AllHead
	Eyebrows
	Mouth
	SensorsHead
	PumpControl
)

var mcuIDNames = map[McuID]string{
	All:         "all",
	AllHead:     "all-head",
	Eyebrows:    "eyebrows",
	Mouth:       "mouth",
	SensorsHead: "sensors-head",
	PumpControl: "pump-control",
}

// reset-bus target name of each single MCU ID.
var mcuIDTargets = map[McuID]string{
	Eyebrows:    boardconfig.ResetEyebrows,
	Mouth:       boardconfig.ResetMouth,
	SensorsHead: boardconfig.ResetHeadSensors,
	PumpControl: boardconfig.ResetPumpCtl,
}

func (id McuID) String() string {
	if name, ok := mcuIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("McuID(%d)", int(id))
}

// McuIDs returns every known ID.
func McuIDs() []McuID {
	return []McuID{All, AllHead, Eyebrows, Mouth, SensorsHead, PumpControl}
}

// ParseMcuID parses an ID such as "all-head". Case is ignored and "_" may be used for "-".
func ParseMcuID(s string) (McuID, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if id, ok := lo.FindKey(mcuIDNames, norm); ok {
		return id, nil
	}
	return 0, errors.Wrapf(ErrInvalidMcuID, "%q", s)
}

// Target is one address on the reset bus.
type Target struct {
	Name    string `json:"name"`
	Address byte   `json:"address"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s (0x%02x)", t.Name, t.Address)
}

// Requester sends a single reset request to the reset MCU's driver.
type Requester interface {
	ResetTarget(ctx context.Context, address byte) error
}

// Result lists which targets of a reset were acknowledged.
type Result struct {
	ID        McuID
	Succeeded []Target
	Failed    []Target
}

// FailedNames returns the names of the targets that could not be reset.
func (r Result) FailedNames() []string {
	return lo.Map(r.Failed, func(t Target, _ int) string { return t.Name })
}

// Option configures an Addresser.
type Option func(*Addresser)

// WithTargetTimeout overrides DefaultTargetTimeout.
func WithTargetTimeout(d time.Duration) Option {
	return func(a *Addresser) { a.targetTimeout = d }
}

// Addresser resolves MCU IDs and issues resets.
type Addresser struct {
	board         *boardconfig.Config
	requester     Requester
	targetTimeout time.Duration
	logger        logging.Logger
}

// NewAddresser returns an Addresser sending requests through requester.
func NewAddresser(board *boardconfig.Config, requester Requester, logger logging.Logger, opts ...Option) *Addresser {
	a := &Addresser{
		board:         board,
		requester:     requester,
		targetTimeout: DefaultTargetTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve returns the reset-bus targets of id.
func (a *Addresser) Resolve(id McuID) ([]Target, error) {
	switch id {
	case All:
		return []Target{{Name: id.String(), Address: a.board.Broadcast()}}, nil
	case AllHead:
		var targets []Target
		for _, single := range []McuID{Eyebrows, Mouth, SensorsHead, PumpControl} {
			t, err := a.target(single)
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		return targets, nil
	case Eyebrows, Mouth, SensorsHead, PumpControl:
		t, err := a.target(id)
		if err != nil {
			return nil, err
		}
		return []Target{t}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidMcuID, "%v", id)
	}
}

func (a *Addresser) target(id McuID) (Target, error) {
	name := mcuIDTargets[id]
	addr, err := a.board.ResetAddress(name)
	if err != nil {
		return Target{}, err
	}
	return Target{Name: name, Address: addr}, nil
}

// Reset resets every target of id. A failed target does not stop the rest; the returned error
// combines the failures.
func (a *Addresser) Reset(ctx context.Context, id McuID) (Result, error) {
	targets, err := a.Resolve(id)
	if err != nil {
		return Result{ID: id}, err
	}

	res := Result{ID: id}
	var errs error
	for _, t := range targets {
		if err := a.resetOne(ctx, t); err != nil {
			a.logger.CWarnw(ctx, "reset failed", "target", t.Name, "address", fmt.Sprintf("0x%02x", t.Address), "error", err)
			res.Failed = append(res.Failed, t)
			errs = multierr.Append(errs, errors.Wrapf(err, "resetting %s", t))
			continue
		}
		res.Succeeded = append(res.Succeeded, t)
	}
	return res, errs
}

func (a *Addresser) resetOne(ctx context.Context, t Target) error {
	ctx, cancel := context.WithTimeout(ctx, a.targetTimeout)
	defer cancel()
	return a.requester.ResetTarget(ctx, t.Address)
}

// ResetFunc returns a function resetting id, for callers that only care whether it worked.
func (a *Addresser) ResetFunc(id McuID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.Reset(ctx, id)
		return err
	}
}
