// Package eyebrows implements the eyebrows driver. It hosts the left and right eyebrow MCUs,
// which share one firmware image and one reset line; LED and LCD commands pick an MCU with the
// "side" argument.
package eyebrows

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/services/driver"
	"github.com/artie-robot/artie/submodule"
)

// ServiceName is the name the eyebrows driver is discovered by.
const ServiceName = "eyebrows-driver"

// DefaultPort is the gRPC port of the eyebrows driver.
const DefaultPort = 18863

// Side selects one of the two eyebrows.
type Side string

// The sides.
const (
	Left  Side = "left"
	Right Side = "right"
)

// Sides returns both sides, left first.
func Sides() []Side {
	return []Side{Left, Right}
}

// ParseSide parses "left" or "right", ignoring case.
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case Left, Right:
		return side, nil
	default:
		return "", errors.Wrapf(driver.ErrInvalidArgument, "side must be one of 'left' or 'right', got %q", s)
	}
}

func (s Side) suffix() string {
	return "-" + strings.ToUpper(string(s))
}

// Config holds the dependencies of the eyebrows driver.
type Config struct {
	Board *boardconfig.Config
	Bus   submodule.Bus
	// Loader programs both MCUs and Resetter resets them together afterwards.
	Loader       submodule.Loader
	Resetter     submodule.Resetter
	FirmwarePath string
	// SwdInterfaces names the SWD interface file of each side.
	SwdInterfaces map[Side]string

	Registerer     prometheus.Registerer
	SelfCheckDelay time.Duration
	SettleDelay    time.Duration
}

type eyebrow struct {
	led *submodule.LED
	lcd *submodule.LCD
}

// Driver is the eyebrows driver service.
type Driver struct {
	*driver.Service
	sides  map[Side]eyebrow
	fw     *submodule.Firmware
	logger logging.Logger
}

// New builds the eyebrows driver. Start must be called before it accepts commands.
func New(cfg Config, logger logging.Logger) (*Driver, error) {
	resetAddr, err := cfg.Board.ResetAddress(boardconfig.ResetEyebrows)
	if err != nil {
		return nil, err
	}
	var ledOpts []submodule.LEDOption
	if cfg.SelfCheckDelay > 0 {
		ledOpts = append(ledOpts, submodule.WithSelfCheckDelay(cfg.SelfCheckDelay))
	}
	var fwOpts []submodule.FirmwareOption
	if cfg.SettleDelay > 0 {
		fwOpts = append(fwOpts, submodule.WithSettleDelay(cfg.SettleDelay))
	}

	d := &Driver{
		Service: driver.NewService(ServiceName, logger, driver.WithRegisterer(cfg.Registerer)),
		sides:   map[Side]eyebrow{},
		logger:  logger,
	}
	var mcus []submodule.Mcu
	for _, side := range Sides() {
		addr, err := cfg.Board.I2CAddress(i2cName(side))
		if err != nil {
			return nil, err
		}
		d.sides[side] = eyebrow{
			led: submodule.NewLED("LED"+side.suffix(), addr, cfg.Bus, logger.Sublogger("led"), ledOpts...),
			lcd: submodule.NewLCD("LCD"+side.suffix(), addr, cfg.Bus, logger.Sublogger("lcd")),
		}
		mcus = append(mcus, submodule.Mcu{
			StatusKey:    "FW" + side.suffix(),
			Name:         string(side) + " eyebrow",
			I2CAddress:   addr,
			ResetAddress: resetAddr,
			FirmwarePath: cfg.FirmwarePath,
			SwdInterface: cfg.SwdInterfaces[side],
		})
	}
	d.fw = submodule.NewFirmware(mcus, cfg.Loader, cfg.Resetter, cfg.Bus, logger.Sublogger("fw"), fwOpts...)

	subs := []submodule.Submodule{d.fw}
	for _, side := range Sides() {
		subs = append(subs, d.sides[side].led)
	}
	for _, side := range Sides() {
		subs = append(subs, d.sides[side].lcd)
	}

	cmds := []driver.Command{
		driver.WhoamiCommand(d.Service),
		driver.StatusCommand(subs...),
		driver.SelfCheckCommand(d.Service, subs...),
		{Name: driver.CmdFirmwareLoad, Queued: true, Handler: d.firmwareLoad},
	}
	cmds = append(cmds, driver.LEDCommands(func(args map[string]interface{}) (*submodule.LED, error) {
		e, err := d.pick(args)
		return e.led, err
	})...)
	cmds = append(cmds, driver.LCDCommands(func(args map[string]interface{}) (*submodule.LCD, error) {
		e, err := d.pick(args)
		return e.lcd, err
	}, false)...)
	if err := d.Register(cmds...); err != nil {
		return nil, err
	}
	return d, nil
}

func i2cName(side Side) string {
	if side == Left {
		return boardconfig.EyebrowsLeft
	}
	return boardconfig.EyebrowsRight
}

func (d *Driver) pick(args map[string]interface{}) (eyebrow, error) {
	var sa driver.SideArgs
	if err := driver.DecodeArgs(args, &sa); err != nil {
		return eyebrow{}, err
	}
	side, err := ParseSide(sa.Side)
	if err != nil {
		return eyebrow{}, err
	}
	return d.sides[side], nil
}

// Start starts the service and runs the same initialization as firmware_load. A failed
// initialization is logged and reflected in the status, and the service keeps running.
func (d *Driver) Start(ctx context.Context) {
	d.Service.Start(ctx)
	if _, err := d.Execute(ctx, driver.CmdFirmwareLoad, nil); err != nil {
		d.logger.CErrorw(ctx, "eyebrows initialization failed", "error", err)
	}
}

// firmwareLoad loads both MCUs, then starts the LED heartbeat and draws the starting face on
// each side whose MCU came back.
func (d *Driver) firmwareLoad(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	fwErr := d.fw.Load(ctx)
	fwStatus := d.fw.Status()
	var ready []Side
	for _, side := range Sides() {
		if fwStatus["FW"+side.suffix()] == submodule.Working {
			ready = append(ready, side)
		}
	}

	var initErr error
	for _, side := range ready {
		initErr = multierr.Append(initErr, d.sides[side].led.Heartbeat(ctx))
	}
	for _, side := range ready {
		initErr = multierr.Append(initErr, d.sides[side].lcd.Draw(ctx, submodule.Smile.String()))
	}
	if initErr != nil {
		d.logger.CWarnw(ctx, "could not initialize the eyebrow LEDs and LCDs", "error", initErr)
	}
	return nil, fwErr
}
