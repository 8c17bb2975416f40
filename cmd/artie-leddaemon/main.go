// Package main runs the daemon driving the controller board's status LED. Other processes change
// its mode by writing "on", "off", or "heartbeat" to a Unix socket.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/components/gpio"
	"github.com/artie-robot/artie/config"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/platformdetector"
)

// DefaultSocket is where the daemon listens.
const DefaultSocket = "/tmp/leddaemonconnection"

func main() {
	app := &cli.App{
		Name:      "artie-leddaemon",
		Usage:     "drive the controller board's status LED",
		Version:   config.GetGitTag(),
		ArgsUsage: "on|off|heartbeat",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "loglevel",
				Value: "info",
				Usage: "log level, one of debug, info, warning, or error",
			},
			&cli.StringFlag{
				Name:  "socket",
				Value: DefaultSocket,
				Usage: "Unix socket `PATH` to accept commands on",
			},
			&cli.StringFlag{
				Name:  "board-config",
				Usage: "YAML `FILE` overriding the board constants",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) (err error) {
	if c.NArg() != 1 {
		return errors.New("the initial mode, one of on, off, or heartbeat, is required")
	}
	level, err := logging.LevelFromString(c.String("loglevel"))
	if err != nil {
		return err
	}
	logger := logging.NewLogger("leddaemon")
	logger.SetLevel(level)

	board, err := boardconfig.Load(c.String("board-config"))
	if err != nil {
		return err
	}
	pin, err := board.Pin(boardconfig.PinLED)
	if err != nil {
		return err
	}
	backend, err := gpio.NewBackendForHost(platformdetector.Detect(), config.InTestMode(), pin, logger)
	if err != nil {
		return err
	}
	line := gpio.NewLine(boardconfig.PinLED, backend, logger)
	defer func() { err = multierr.Combine(err, line.Close()) }()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := &daemon{led: line, logger: logger}
	if err := line.SetLow(ctx); err != nil {
		return err
	}
	if err := d.apply(ctx, c.Args().First()); err != nil {
		return err
	}

	listener, err := listen(ctx, c.String("socket"))
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(c.String("socket")); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Combine(err, rmErr)
		}
	}()
	logger.Infow("accepting LED commands", "socket", c.String("socket"))
	return d.serve(ctx, listener)
}

// listen binds the socket, removing one left behind by an unclean shutdown.
func listen(ctx context.Context, path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, "unix", path)
}
