package main

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/artie-robot/artie/logging"
)

// HeartbeatPeriod is the full period of the status LED heartbeat.
const HeartbeatPeriod = 2 * time.Second

// The LED modes.
const (
	modeOn        = "on"
	modeOff       = "off"
	modeHeartbeat = "heartbeat"
)

// A command is a single read of at most maxCommandSize bytes.
const (
	maxCommandSize = 1024
	readTimeout    = 5 * time.Second
)

var errInvalidMode = errors.New("invalid LED mode")

// statusLED is what the daemon drives. *gpio.Line implements it.
type statusLED interface {
	SetHigh(ctx context.Context) error
	SetLow(ctx context.Context) error
	PulseHeartbeat(period time.Duration) error
	Running() bool
}

type daemon struct {
	led    statusLED
	logger logging.Logger
}

func (d *daemon) apply(ctx context.Context, mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case modeOn:
		d.logger.Infow("setting LED to on")
		return d.led.SetHigh(ctx)
	case modeOff:
		d.logger.Infow("setting LED to off")
		return d.led.SetLow(ctx)
	case modeHeartbeat:
		d.logger.Infow("setting LED to heartbeat")
		if d.led.Running() {
			return nil
		}
		return d.led.PulseHeartbeat(HeartbeatPeriod)
	default:
		return errors.Wrapf(errInvalidMode, "%q", mode)
	}
}

// serve reads one command per connection until ctx is done. Unknown commands are logged and
// ignored.
func (d *daemon) serve(ctx context.Context, listener net.Listener) error {
	goutils.ManagedGo(func() {
		<-ctx.Done()
		goutils.UncheckedError(listener.Close())
	}, nil)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.handle(ctx, conn)
	}
}

func (d *daemon) handle(ctx context.Context, conn net.Conn) {
	defer goutils.UncheckedErrorFunc(conn.Close)
	d.logger.Debugw("connected to a client")

	goutils.UncheckedError(conn.SetReadDeadline(time.Now().Add(readTimeout)))
	buf := make([]byte, maxCommandSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		d.logger.Warnw("reading command", "error", err)
		return
	}
	cmd := string(buf[:n])
	if err := d.apply(ctx, cmd); err != nil {
		d.logger.Errorw("ignoring an unexpected value from client connection", "value", cmd, "error", err)
	}
}
