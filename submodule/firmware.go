package submodule

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/swd"
)

// MinSettleDelay is the shortest wait between resetting an MCU and probing it.
const MinSettleDelay = 100 * time.Millisecond

// ErrMcuNotFound is returned when an MCU does not acknowledge its I2C address.
var ErrMcuNotFound = errors.New("MCU not found on the i2c bus")

// Loader programs an ELF image through an SWD interface file.
type Loader interface {
	Load(ctx context.Context, elfPath, ifaceFile string) (swd.Result, error)
}

// Resetter resets the MCUs a Firmware submodule owns.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ResetterFunc adapts a function to Resetter.
type ResetterFunc func(ctx context.Context) error

// Reset calls f.
func (f ResetterFunc) Reset(ctx context.Context) error {
	return f(ctx)
}

// Mcu is one microcontroller whose firmware is managed by a Firmware submodule.
type Mcu struct {
	// StatusKey is the name the MCU's status is reported under, such as "FW" or "FW-LEFT".
	StatusKey    string
	Name         string
	I2CAddress   byte
	ResetAddress byte
	FirmwarePath string
	SwdInterface string
}

type mcuState struct {
	Mcu
	cell
}

// FirmwareOption configures a Firmware.
type FirmwareOption func(*Firmware)

// WithSettleDelay overrides MinSettleDelay. Shorter values are raised to MinSettleDelay.
func WithSettleDelay(d time.Duration) FirmwareOption {
	return func(f *Firmware) { f.settle = max(d, MinSettleDelay) }
}

// Firmware loads and checks the firmware of one or more MCUs that share a reset line.
type Firmware struct {
	mcus     []*mcuState
	loader   Loader
	resetter Resetter
	prober   Prober
	settle   time.Duration
	logger   logging.Logger
}

// NewFirmware returns a Firmware submodule for mcus.
func NewFirmware(
	mcus []Mcu,
	loader Loader,
	resetter Resetter,
	prober Prober,
	logger logging.Logger,
	opts ...FirmwareOption,
) *Firmware {
	f := &Firmware{
		loader:   loader,
		resetter: resetter,
		prober:   prober,
		settle:   MinSettleDelay,
		logger:   logger,
	}
	for _, m := range mcus {
		f.mcus = append(f.mcus, &mcuState{Mcu: m})
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Mcus returns the managed MCUs.
func (f *Firmware) Mcus() []Mcu {
	mcus := make([]Mcu, 0, len(f.mcus))
	for _, m := range f.mcus {
		mcus = append(mcus, m.Mcu)
	}
	return mcus
}

// Status implements Submodule.
func (f *Firmware) Status() map[string]Status {
	out := make(map[string]Status, len(f.mcus))
	for _, m := range f.mcus {
		out[m.StatusKey] = m.get()
	}
	return out
}

// Load programs every MCU, resets them, waits for them to settle, and checks that each one
// answers on the bus. An MCU is working only if all of those steps succeed for it.
func (f *Firmware) Load(ctx context.Context) error {
	f.logger.CInfow(ctx, "Loading FW...", "mcus", len(f.mcus))

	var errs error
	failed := make(map[*mcuState]bool, len(f.mcus))
	var anyLoaded bool
	for _, m := range f.mcus {
		if err := f.loadOne(ctx, m); err != nil {
			f.logger.CErrorw(ctx, fmt.Sprintf("Error when trying to load FW into %s MCU. It is likely that MCU is inoperable.", m.Name),
				"error", err)
			errs = multierr.Append(errs, err)
			failed[m] = true
			continue
		}
		anyLoaded = true
	}
	if !anyLoaded {
		for _, m := range f.mcus {
			m.set(NotWorking)
		}
		return errs
	}

	if err := f.resetter.Reset(ctx); err != nil {
		err = errors.Wrap(err, "resetting after firmware load")
		f.logger.CErrorw(ctx, "reset after firmware load failed", "error", err)
		errs = multierr.Append(errs, err)
		for _, m := range f.mcus {
			failed[m] = true
		}
	}

	if err := wait(ctx, f.settle); err != nil {
		errs = multierr.Append(errs, err)
		for _, m := range f.mcus {
			m.set(NotWorking)
		}
		return errs
	}

	for _, m := range f.mcus {
		err := f.probe(ctx, m)
		errs = multierr.Append(errs, err)
		if err != nil || failed[m] {
			m.set(NotWorking)
		} else {
			m.set(Working)
		}
	}
	return errs
}

func (f *Firmware) loadOne(ctx context.Context, m *mcuState) error {
	if _, err := os.Stat(m.FirmwarePath); err != nil {
		return errors.Wrapf(swd.ErrFileNotFound, "%s firmware %q", m.Name, m.FirmwarePath)
	}
	if _, err := f.loader.Load(ctx, m.FirmwarePath, m.SwdInterface); err != nil {
		return errors.Wrapf(err, "loading %s firmware", m.Name)
	}
	return nil
}

func (f *Firmware) probe(ctx context.Context, m *mcuState) error {
	if _, ok := f.prober.ProbeAddress(ctx, m.I2CAddress); !ok {
		f.logger.CErrorw(ctx, fmt.Sprintf("Cannot find %s on the I2C bus. It will not be available.", m.Name),
			"address", fmt.Sprintf("0x%02x", m.I2CAddress))
		return errors.Wrapf(ErrMcuNotFound, "%s at 0x%02x", m.Name, m.I2CAddress)
	}
	return nil
}

// SelfCheck probes every MCU.
func (f *Firmware) SelfCheck(ctx context.Context) error {
	var errs error
	for _, m := range f.mcus {
		errs = multierr.Append(errs, m.record(f.probe(ctx, m)))
	}
	return errs
}
