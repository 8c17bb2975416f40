package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/client"
	"github.com/artie-robot/artie/components/i2cbus"
	"github.com/artie-robot/artie/config"
	artiegrpc "github.com/artie-robot/artie/grpc"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/metrics"
	"github.com/artie-robot/artie/platformdetector"
	"github.com/artie-robot/artie/reset"
	"github.com/artie-robot/artie/services/driver"
	"github.com/artie-robot/artie/submodule"
	"github.com/artie-robot/artie/swd"
)

// Flags shared by every subcommand.
const (
	flagPort        = "port"
	flagLogLevel    = "loglevel"
	flagLogFile     = "log-file"
	flagCert        = "cert"
	flagKey         = "key"
	flagBoardConfig = "board-config"
)

func commonFlags(defaultPort int) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  flagPort,
			Value: defaultPort,
			Usage: "gRPC port to serve on",
		},
		&cli.StringFlag{
			Name:  flagLogLevel,
			Value: "info",
			Usage: "log level, one of debug, info, warning, or error",
		},
		&cli.StringFlag{
			Name:  flagLogFile,
			Usage: "also write JSON logs to `FILE`, rotated",
		},
		&cli.StringFlag{
			Name:    flagCert,
			Usage:   "TLS certificate `FILE`",
			EnvVars: []string{"ARTIE_TLS_CERT"},
		},
		&cli.StringFlag{
			Name:    flagKey,
			Usage:   "TLS key `FILE`",
			EnvVars: []string{"ARTIE_TLS_KEY"},
		},
		&cli.StringFlag{
			Name:  flagBoardConfig,
			Usage: "YAML `FILE` overriding the board constants",
		},
	}
}

// process holds what every driver binary builds before its service.
type process struct {
	name     string
	logger   logging.Logger
	board    *boardconfig.Config
	host     platformdetector.Host
	testMode bool
	registry *prometheus.Registry
}

func newProcess(c *cli.Context, name string) (*process, error) {
	level, err := logging.LevelFromString(c.String(flagLogLevel))
	if err != nil {
		return nil, err
	}
	var logger logging.Logger
	if path := c.String(flagLogFile); path != "" {
		logger = logging.NewFileLogger(name, level, logging.FileConfig{
			Path:       path,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		})
	} else {
		logger = logging.NewLogger(name)
		logger.SetLevel(level)
	}
	config.LogArtieEnvVariables("starting "+name, logger)

	board, err := boardconfig.Load(c.String(flagBoardConfig))
	if err != nil {
		return nil, err
	}
	return &process{
		name:     name,
		logger:   logger,
		board:    board,
		host:     platformdetector.Detect(),
		testMode: config.InTestMode(),
		registry: metrics.NewRegistry(logger),
	}, nil
}

// openBus opens the I2C bus. Off hardware, or in a test mode, the bus is simulated with the
// given addresses present.
func (p *process) openBus(ctx context.Context, simulated ...string) (*i2cbus.Bus, error) {
	opts := []i2cbus.Option{i2cbus.WithRegisterer(p.registry)}
	if p.testMode || !p.host.IsHardware() {
		var addrs []byte
		for _, name := range simulated {
			addr, err := p.board.I2CAddress(name)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}
		p.logger.Infow("using simulated i2c bus", "addresses", addrs)
		return i2cbus.New(ctx, i2cbus.NewSimDriver(map[int][]byte{1: addrs}), p.logger.Sublogger("i2c"), opts...)
	}
	drv, err := i2cbus.NewPeriphDriver()
	if err != nil {
		return nil, err
	}
	return i2cbus.New(ctx, drv, p.logger.Sublogger("i2c"), opts...)
}

func (p *process) loader() *swd.Loader {
	return swd.NewLoader(p.logger.Sublogger("swd"), swd.WithTestMode(p.testMode), swd.WithRegisterer(p.registry))
}

// resetter resets id through the reset driver of this Artie.
func (p *process) resetter(id reset.McuID) (submodule.Resetter, func() error) {
	cl := client.New(p.logger.Sublogger("client"), client.WithRegisterer(p.registry))
	addresser := reset.NewAddresser(p.board, cl.Reset(""), p.logger.Sublogger("reset"))
	return submodule.ResetterFunc(addresser.ResetFunc(id)), cl.Close
}

// serve runs svc over gRPC on the port flag, and the metrics endpoint, until ctx is done.
func (p *process) serve(ctx context.Context, c *cli.Context, svc *driver.Service) error {
	srv, err := artiegrpc.NewServer(artiegrpc.ServerOptions{
		CertFile: c.String(flagCert),
		KeyFile:  c.String(flagKey),
	})
	if err != nil {
		return err
	}
	driver.Register(srv, svc)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.Int(flagPort)))
	if err != nil {
		return err
	}
	p.logger.Infow("serving", "service", svc.Name(), "address", listener.Addr().String())

	metricsServer := metrics.NewServer(config.GetMetricsPort(p.logger), p.registry, p.logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(listener)
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return metricsServer.Serve(ctx, nil)
	})
	return g.Wait()
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}
