// Package main runs one of Artie's peripheral driver services.
package main

import (
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/components/gpio"
	"github.com/artie-robot/artie/config"
	"github.com/artie-robot/artie/reset"
	"github.com/artie-robot/artie/services/eyebrows"
	"github.com/artie-robot/artie/services/mouth"
	"github.com/artie-robot/artie/services/resetmcu"
)

func main() {
	app := &cli.App{
		Name:    "artie-driver",
		Usage:   "run one of Artie's peripheral driver services",
		Version: config.GetGitTag(),
		Commands: []*cli.Command{
			{
				Name:      "mouth",
				Usage:     "drive the mouth LED and LCD",
				ArgsUsage: "FW_PATH",
				Flags:     commonFlags(mouth.DefaultPort),
				Action:    runMouth,
			},
			{
				Name:      "eyebrows",
				Usage:     "drive both eyebrows' LEDs and LCDs",
				ArgsUsage: "FW_PATH",
				Flags:     commonFlags(eyebrows.DefaultPort),
				Action:    runEyebrows,
			},
			{
				Name:      "reset",
				Usage:     "drive the reset MCU",
				ArgsUsage: "FW_PATH",
				Flags:     commonFlags(resetmcu.DefaultPort),
				Action:    runReset,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func firmwarePath(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("%s takes the firmware path as its only argument", c.Command.Name)
	}
	return c.Args().First(), nil
}

func runMouth(c *cli.Context) (err error) {
	fw, err := firmwarePath(c)
	if err != nil {
		return err
	}
	p, err := newProcess(c, mouth.ServiceName)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	bus, err := p.openBus(ctx, boardconfig.Mouth)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Combine(err, bus.Close()) }()
	resetter, closeClient := p.resetter(reset.Mouth)
	defer func() { err = multierr.Combine(err, closeClient()) }()

	d, err := mouth.New(mouth.Config{
		Board:        p.board,
		Bus:          bus,
		Loader:       p.loader(),
		Resetter:     resetter,
		FirmwarePath: fw,
		SwdInterface: config.GetSwdInterface(config.SwdConfigMouthEnvVar, p.logger),
		Registerer:   p.registry,
	}, p.logger.Sublogger("mouth"))
	if err != nil {
		return err
	}
	d.Start(ctx)
	defer func() { err = multierr.Combine(err, d.Close()) }()
	return p.serve(ctx, c, d.Service)
}

func runEyebrows(c *cli.Context) (err error) {
	fw, err := firmwarePath(c)
	if err != nil {
		return err
	}
	p, err := newProcess(c, eyebrows.ServiceName)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	bus, err := p.openBus(ctx, boardconfig.EyebrowsLeft, boardconfig.EyebrowsRight)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Combine(err, bus.Close()) }()
	resetter, closeClient := p.resetter(reset.Eyebrows)
	defer func() { err = multierr.Combine(err, closeClient()) }()

	d, err := eyebrows.New(eyebrows.Config{
		Board:        p.board,
		Bus:          bus,
		Loader:       p.loader(),
		Resetter:     resetter,
		FirmwarePath: fw,
		SwdInterfaces: map[eyebrows.Side]string{
			eyebrows.Left:  config.GetSwdInterface(config.SwdConfigEyebrowLeftEnvVar, p.logger),
			eyebrows.Right: config.GetSwdInterface(config.SwdConfigEyebrowRightEnvVar, p.logger),
		},
		Registerer: p.registry,
	}, p.logger.Sublogger("eyebrows"))
	if err != nil {
		return err
	}
	d.Start(ctx)
	defer func() { err = multierr.Combine(err, d.Close()) }()
	return p.serve(ctx, c, d.Service)
}

func runReset(c *cli.Context) (err error) {
	fw, err := firmwarePath(c)
	if err != nil {
		return err
	}
	p, err := newProcess(c, resetmcu.ServiceName)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	bus, err := p.openBus(ctx, boardconfig.Reset)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Combine(err, bus.Close()) }()

	pin, err := p.board.Pin(boardconfig.PinResetReset)
	if err != nil {
		return err
	}
	backend, err := gpio.NewBackendForHost(p.host, p.testMode, pin, p.logger)
	if err != nil {
		return err
	}
	line := gpio.NewLine(boardconfig.PinResetReset, backend, p.logger.Sublogger("gpio"), gpio.WithRegisterer(p.registry))
	defer func() { err = multierr.Combine(err, line.Close()) }()

	d, err := resetmcu.New(resetmcu.Config{
		Board:        p.board,
		Bus:          bus,
		ResetLine:    line,
		Loader:       p.loader(),
		FirmwarePath: fw,
		SwdInterface: config.GetSwdInterface(config.SwdConfigResetEnvVar, p.logger),
		Registerer:   p.registry,
	}, p.logger.Sublogger("reset"))
	if err != nil {
		return err
	}
	d.Start(ctx)
	defer func() { err = multierr.Combine(err, d.Close()) }()
	return p.serve(ctx, c, d.Service)
}
