// Package main runs the HTTP API in front of the driver services.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/client"
	"github.com/artie-robot/artie/config"
	"github.com/artie-robot/artie/gateway"
	artiegrpc "github.com/artie-robot/artie/grpc"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/metrics"
)

const serviceName = "artie-api-server"

func main() {
	app := &cli.App{
		Name:    serviceName,
		Usage:   "serve the Artie HTTP API",
		Version: config.GetGitTag(),
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Value: gateway.DefaultPort,
				Usage: "HTTP port to serve on",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Value: "info",
				Usage: "log level, one of debug, info, warning, or error",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "also write JSON logs to `FILE`, rotated",
			},
			&cli.StringFlag{
				Name:  "board-config",
				Usage: "YAML `FILE` overriding the board constants",
			},
			&cli.BoolFlag{
				Name:  "tls",
				Usage: "dial the driver services over TLS, accepting self-signed certificates",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) (err error) {
	level, err := logging.LevelFromString(c.String("loglevel"))
	if err != nil {
		return err
	}
	var logger logging.Logger
	if path := c.String("log-file"); path != "" {
		logger = logging.NewFileLogger(serviceName, level, logging.FileConfig{
			Path:       path,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		})
	} else {
		logger = logging.NewLogger(serviceName)
		logger.SetLevel(level)
	}
	config.LogArtieEnvVariables("starting "+serviceName, logger)

	board, err := boardconfig.Load(c.String("board-config"))
	if err != nil {
		return err
	}
	reg := metrics.NewRegistry(logger)
	cl := client.New(logger.Sublogger("client"),
		client.WithRegisterer(reg),
		client.WithDialOptions(artiegrpc.DialOptions{
			Caller:             serviceName,
			TLS:                c.Bool("tls"),
			InsecureSkipVerify: true,
		}),
	)
	defer func() { err = multierr.Combine(err, cl.Close()) }()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return gateway.New(cl, board, reg, c.Int("port"), logger.Sublogger("gateway")).Serve(ctx, nil)
}
