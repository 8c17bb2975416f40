// Package resetmcu implements the reset driver. It owns the reset MCU, which sits on the I2C bus
// and pulls the reset line of whichever MCU address it is sent. The reset MCU itself is reset
// through the RESET_RESET GPIO line.
package resetmcu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/services/driver"
	"github.com/artie-robot/artie/submodule"
)

// ServiceName is the name the reset driver is discovered by.
const ServiceName = "reset-driver"

// DefaultPort is the gRPC port of the reset driver.
const DefaultPort = 18861

// CmdResetTarget is the command that resets one MCU, or all of them.
const CmdResetTarget = "reset_target"

// Status keys.
const (
	FirmwareKey = "MCU"
	ResetKey    = "RESET"
)

// Timing of the reset pulse on the RESET_RESET line.
const (
	DefaultPulseWidth    = 100 * time.Millisecond
	DefaultRecoveryDelay = time.Second
)

// ErrInvalidResetAddress is returned by reset_target for addresses that no MCU answers to.
var ErrInvalidResetAddress = errors.Wrap(driver.ErrInvalidArgument, "not a reset address")

// Line is the output pin wired to the reset MCU's reset input.
type Line interface {
	SetHigh(ctx context.Context) error
	SetLow(ctx context.Context) error
}

// Config holds the dependencies of the reset driver.
type Config struct {
	Board        *boardconfig.Config
	Bus          submodule.Bus
	ResetLine    Line
	Loader       submodule.Loader
	FirmwarePath string
	SwdInterface string

	Registerer    prometheus.Registerer
	PulseWidth    time.Duration
	RecoveryDelay time.Duration
}

// Driver is the reset driver service.
type Driver struct {
	*driver.Service
	board  *boardconfig.Config
	bus    submodule.Bus
	line   Line
	mcu    byte
	fw     *submodule.Firmware
	resets *resetStatus
	logger logging.Logger

	pulseWidth    time.Duration
	recoveryDelay time.Duration
	latency       *prometheus.HistogramVec
}

// New builds the reset driver. Start must be called before it accepts commands.
func New(cfg Config, logger logging.Logger) (*Driver, error) {
	addr, err := cfg.Board.I2CAddress(boardconfig.Reset)
	if err != nil {
		return nil, err
	}
	d := &Driver{
		Service:       driver.NewService(ServiceName, logger, driver.WithRegisterer(cfg.Registerer)),
		board:         cfg.Board,
		bus:           cfg.Bus,
		line:          cfg.ResetLine,
		mcu:           addr,
		resets:        &resetStatus{},
		logger:        logger,
		pulseWidth:    DefaultPulseWidth,
		recoveryDelay: DefaultRecoveryDelay,
	}
	if cfg.PulseWidth > 0 {
		d.pulseWidth = cfg.PulseWidth
	}
	if cfg.RecoveryDelay > 0 {
		d.recoveryDelay = cfg.RecoveryDelay
	}
	d.latency = promauto.With(cfg.Registerer).NewHistogramVec(prometheus.HistogramOpts{
		Name: "artie_reset_target_seconds",
		Help: "Time taken to hand a reset request to the reset MCU.",
	}, []string{"target_addr"})

	d.fw = submodule.NewFirmware([]submodule.Mcu{{
		StatusKey:    FirmwareKey,
		Name:         "reset",
		I2CAddress:   addr,
		FirmwarePath: cfg.FirmwarePath,
		SwdInterface: cfg.SwdInterface,
	}}, cfg.Loader, submodule.ResetterFunc(d.pulse), cfg.Bus, logger.Sublogger("fw"))

	if err := d.Register(
		driver.WhoamiCommand(d.Service),
		driver.StatusCommand(d.fw, d.resets),
		driver.SelfCheckCommand(d.Service, d.fw),
		driver.Command{Name: driver.CmdFirmwareLoad, Queued: true, Handler: d.firmwareLoad},
		driver.Command{Name: CmdResetTarget, Queued: true, Handler: d.resetTarget},
	); err != nil {
		return nil, err
	}
	return d, nil
}

// Start drives the reset line low, starts the service and loads the firmware. A failed load is
// logged and reflected in the status, and the service keeps running.
func (d *Driver) Start(ctx context.Context) {
	if err := d.line.SetLow(ctx); err != nil {
		d.logger.CErrorw(ctx, "could not drive the reset line low", "error", err)
	}
	d.Service.Start(ctx)
	if _, err := d.Execute(ctx, driver.CmdFirmwareLoad, nil); err != nil {
		d.logger.CErrorw(ctx, "reset MCU initialization failed", "error", err)
	}
}

func (d *Driver) firmwareLoad(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return nil, d.fw.Load(ctx)
}

// pulse resets the reset MCU and waits for it to come back.
func (d *Driver) pulse(ctx context.Context) error {
	if err := d.line.SetHigh(ctx); err != nil {
		return err
	}
	waitErr := sleep(ctx, d.pulseWidth)
	if err := d.line.SetLow(ctx); err != nil {
		return multierr.Combine(waitErr, err)
	}
	if waitErr != nil {
		return waitErr
	}
	return sleep(ctx, d.recoveryDelay)
}

func sleep(ctx context.Context, dur time.Duration) error {
	if !goutils.SelectContextOrWait(ctx, dur) {
		return ctx.Err()
	}
	return nil
}

func (d *Driver) resetTarget(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var ra driver.ResetTargetArgs
	if err := driver.DecodeArgs(args, &ra); err != nil {
		return nil, err
	}
	if ra.Address == nil {
		return nil, errors.Wrap(driver.ErrInvalidArgument, "missing address")
	}
	if *ra.Address < 0 || *ra.Address > 0xFF || !d.board.IsResetAddress(byte(*ra.Address)) {
		return nil, errors.Wrapf(ErrInvalidResetAddress, "%#x", *ra.Address)
	}
	return nil, d.ResetTarget(ctx, byte(*ra.Address))
}

// ResetTarget asks the reset MCU to reset the MCU at addr, or every MCU for the broadcast address.
func (d *Driver) ResetTarget(ctx context.Context, addr byte) error {
	label := fmt.Sprintf("0x%02x", addr)
	if addr == d.board.Broadcast() {
		d.logger.CInfow(ctx, "Resetting ALL MCU-class devices")
	}
	d.logger.CDebugw(ctx, "writing reset request", "target_addr", label, "reset_mcu", fmt.Sprintf("0x%02x", d.mcu))

	start := time.Now()
	if err := d.bus.Write(ctx, d.mcu, uint64(addr)); err != nil {
		d.resets.set(submodule.NotWorking)
		d.logger.CErrorw(ctx, "Could not reset target", "target_addr", label, "error", err)
		return errors.Wrapf(err, "resetting target %s", label)
	}
	d.latency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	d.resets.set(submodule.Working)
	return nil
}

// resetStatus tracks whether the last reset request reached the reset MCU.
type resetStatus struct {
	mu     sync.Mutex
	status submodule.Status
}

func (r *resetStatus) set(s submodule.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *resetStatus) Status() map[string]submodule.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]submodule.Status{ResetKey: r.status}
}

// SelfCheck does nothing: exercising the reset channel would reset an MCU.
func (r *resetStatus) SelfCheck(ctx context.Context) error {
	return nil
}
