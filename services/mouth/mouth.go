// Package mouth implements the mouth driver: the LED, LCD and firmware of the mouth MCU.
package mouth

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/services/driver"
	"github.com/artie-robot/artie/submodule"
)

// ServiceName is the name the mouth driver is discovered by.
const ServiceName = "mouth-driver"

// DefaultPort is the gRPC port of the mouth driver.
const DefaultPort = 18862

// Status keys of the submodules.
const (
	LEDKey      = "LED"
	LCDKey      = "LCD"
	FirmwareKey = "FW"
)

// Config holds the dependencies of the mouth driver.
type Config struct {
	Board *boardconfig.Config
	Bus   submodule.Bus
	// Loader programs the MCU and Resetter resets it afterwards.
	Loader       submodule.Loader
	Resetter     submodule.Resetter
	FirmwarePath string
	SwdInterface string

	Registerer     prometheus.Registerer
	SelfCheckDelay time.Duration
	SettleDelay    time.Duration
}

// Driver is the mouth driver service.
type Driver struct {
	*driver.Service
	led    *submodule.LED
	lcd    *submodule.LCD
	fw     *submodule.Firmware
	logger logging.Logger
}

// New builds the mouth driver. Start must be called before it accepts commands.
func New(cfg Config, logger logging.Logger) (*Driver, error) {
	addr, err := cfg.Board.I2CAddress(boardconfig.Mouth)
	if err != nil {
		return nil, err
	}
	resetAddr, err := cfg.Board.ResetAddress(boardconfig.ResetMouth)
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
		led:     submodule.NewLED(LEDKey, addr, cfg.Bus, logger.Sublogger("led"), ledOpts...),
		lcd:     submodule.NewLCD(LCDKey, addr, cfg.Bus, logger.Sublogger("lcd"), submodule.WithTalking()),
		logger:  logger,
	}
	d.fw = submodule.NewFirmware([]submodule.Mcu{{
		StatusKey:    FirmwareKey,
		Name:         "mouth",
		I2CAddress:   addr,
		ResetAddress: resetAddr,
		FirmwarePath: cfg.FirmwarePath,
		SwdInterface: cfg.SwdInterface,
	}}, cfg.Loader, cfg.Resetter, cfg.Bus, logger.Sublogger("fw"), fwOpts...)

	pickLED := func(map[string]interface{}) (*submodule.LED, error) { return d.led, nil }
	pickLCD := func(map[string]interface{}) (*submodule.LCD, error) { return d.lcd, nil }

	cmds := []driver.Command{
		driver.WhoamiCommand(d.Service),
		driver.StatusCommand(d.fw, d.led, d.lcd),
		driver.SelfCheckCommand(d.Service, d.fw, d.led, d.lcd),
		{Name: driver.CmdFirmwareLoad, Queued: true, Handler: d.firmwareLoad},
	}
	cmds = append(cmds, driver.LEDCommands(pickLED)...)
	cmds = append(cmds, driver.LCDCommands(pickLCD, true)...)
	if err := d.Register(cmds...); err != nil {
		return nil, err
	}
	return d, nil
}

// Start starts the service and runs the same initialization as firmware_load. A failed
// initialization is logged and reflected in the status, and the service keeps running.
func (d *Driver) Start(ctx context.Context) {
	d.Service.Start(ctx)
	if _, err := d.Execute(ctx, driver.CmdFirmwareLoad, nil); err != nil {
		d.logger.CErrorw(ctx, "mouth initialization failed", "error", err)
	}
}

// firmwareLoad loads the firmware and then redraws the face and restarts the LED heartbeat. The
// LED and LCD are left alone if the MCU did not come back.
func (d *Driver) firmwareLoad(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := d.fw.Load(ctx); err != nil {
		return nil, err
	}
	if err := d.lcd.Draw(ctx, submodule.Smile.String()); err != nil {
		d.logger.CWarnw(ctx, "could not draw the starting face", "error", err)
	}
	if err := d.led.Heartbeat(ctx); err != nil {
		d.logger.CWarnw(ctx, "could not start the LED heartbeat", "error", err)
	}
	return nil, nil
}
