// Package client calls the driver services. It finds a service from its name and the Artie ID,
// waits for it to come online, and retries calls that could not reach it.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/multierr"
	commonpb "go.viam.com/api/common/v1"
	genericpb "go.viam.com/api/component/generic/v1"
	goutils "go.viam.com/utils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/artie-robot/artie/config"
	artiegrpc "github.com/artie-robot/artie/grpc"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/services/driver"
)

// Defaults of the retry and health-wait policies.
const (
	DefaultAttempts      = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultOnlineTimeout = 30 * time.Second
	DefaultProbeInterval = 250 * time.Millisecond
)

// DefaultCaller is the caller name attached to requests unless overridden.
const DefaultCaller = "artie-api-server"

// Option configures a Client.
type Option func(*Client)

// WithArtieID sets the Artie ID used when a call does not name one.
func WithArtieID(id string) Option {
	return func(c *Client) { c.artieID = id }
}

// WithArtieIDSource sets where Artie IDs are looked up when none is configured.
func WithArtieIDSource(src ArtieIDSource) Option {
	return func(c *Client) { c.idSource = src }
}

// WithRegistry replaces DefaultRegistry.
func WithRegistry(reg Registry) Option {
	return func(c *Client) { c.registry = reg }
}

// WithTestMode addresses services by their bare names. It defaults to the run mode.
func WithTestMode(testMode bool) Option {
	return func(c *Client) { c.testMode = testMode }
}

// WithDialOptions sets how connections are dialed.
func WithDialOptions(opts artiegrpc.DialOptions) Option {
	return func(c *Client) { c.dialOpts = opts }
}

// WithRetryPolicy sets the number of attempts per call and the delay between them.
func WithRetryPolicy(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = max(attempts, 1)
		c.retryDelay = delay
	}
}

// WithOnlineTimeout sets how long a call waits for its service to come online the first time.
func WithOnlineTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.onlineTimeout = timeout }
}

// WithProbeInterval sets the pause between health probes.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Client) { c.probeInterval = d }
}

// WithClock sets the clock the retry delays are measured with.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clk = clk }
}

// WithRegisterer registers the client metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// Client is safe for concurrent use. Connections are opened on first use and kept until Close.
type Client struct {
	registry      Registry
	artieID       string
	idSource      ArtieIDSource
	testMode      bool
	dialOpts      artiegrpc.DialOptions
	attempts      int
	retryDelay    time.Duration
	onlineTimeout time.Duration
	probeInterval time.Duration
	clk           clock.Clock
	logger        logging.Logger
	registerer    prometheus.Registerer

	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	online map[string]bool

	calls   *prometheus.CounterVec
	retries *prometheus.CounterVec
}

// New returns a Client.
func New(logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		registry:      DefaultRegistry(),
		testMode:      config.InTestMode(),
		dialOpts:      artiegrpc.DialOptions{Caller: DefaultCaller},
		attempts:      DefaultAttempts,
		retryDelay:    DefaultRetryDelay,
		onlineTimeout: DefaultOnlineTimeout,
		probeInterval: DefaultProbeInterval,
		clk:           clock.New(),
		logger:        logger,
		conns:         map[string]*grpc.ClientConn{},
		online:        map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	factory := promauto.With(c.registerer)
	c.calls = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "artie_client_calls_total",
		Help: "Number of driver service calls made by the client.",
	}, []string{"service", "command", "outcome"})
	c.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "artie_client_connection_errors_total",
		Help: "Number of attempts that could not reach a driver service.",
	}, []string{"service"})
	return c
}

func (c *Client) envArtieID() string {
	return config.GetArtieID()
}

func (c *Client) conn(address string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[address]; ok {
		return conn, nil
	}
	conn, err := artiegrpc.Dial(address, c.dialOpts)
	if err != nil {
		return nil, err
	}
	c.conns[address] = conn
	return conn, nil
}

// invoke makes one DoCommand attempt.
func (c *Client) invoke(
	ctx context.Context, svc Service, address, command string, args map[string]interface{},
) (interface{}, error) {
	conn, err := c.conn(address)
	if err != nil {
		return nil, &TransportError{Service: svc, Address: address, Err: err}
	}
	payload := map[string]interface{}{driver.CommandKey: command}
	for k, v := range args {
		payload[k] = v
	}
	pb, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding arguments of %s", command)
	}
	resp, err := genericpb.NewGenericServiceClient(conn).DoCommand(ctx, &commonpb.DoCommandRequest{
		Name:    c.registry[svc].Name,
		Command: pb,
	})
	if err != nil {
		if isTransport(err) {
			return nil, &TransportError{Service: svc, Address: address, Err: err}
		}
		return nil, err
	}
	return resp.GetResult().AsMap()[driver.ResultKey], nil
}

// isTransport reports whether err means the request may not have reached the service.
func isTransport(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return true
	default:
		return false
	}
}

// BlockUntilOnline probes svc with whoami until it answers or timeout elapses. Success is
// remembered, so later calls for the same service and host return at once.
func (c *Client) BlockUntilOnline(ctx context.Context, svc Service, artieID string, timeout time.Duration) error {
	address, err := c.Address(svc, artieID)
	if err != nil {
		return err
	}
	key := string(svc) + "@" + address
	c.mu.Lock()
	done := c.online[key]
	c.mu.Unlock()
	if done {
		return nil
	}

	c.logger.CInfow(ctx, "Waiting for service to come online", "service", svc, "address", address)
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		_, err := c.invoke(probeCtx, svc, address, driver.CmdWhoami, nil)
		var te *TransportError
		// Any answer from the service, even an error, means it is up.
		if err == nil || (!errors.As(err, &te) && probeCtx.Err() == nil) {
			c.mu.Lock()
			c.online[key] = true
			c.mu.Unlock()
			return nil
		}
		c.logger.CDebugw(ctx, "service not online yet", "service", svc, "address", address, "error", err)
		if !goutils.SelectContextOrWait(probeCtx, c.probeInterval) {
			if ctx.Err() == nil {
				return &TimeoutError{Service: svc, Address: address, Timeout: timeout, Err: err}
			}
			return &TimeoutError{Service: svc, Address: address, Err: multierr.Combine(ctx.Err(), err)}
		}
	}
}

// Call runs command on svc once the service is online. Attempts that cannot reach the service are
// retried; errors returned by the service are not.
func (c *Client) Call(
	ctx context.Context, svc Service, artieID, command string, args map[string]interface{},
) (result interface{}, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.calls.WithLabelValues(string(svc), command, outcome).Inc()
	}()

	artieID, err = c.ResolveArtieID(ctx, artieID)
	if err != nil {
		return nil, err
	}
	if err := c.BlockUntilOnline(ctx, svc, artieID, c.onlineTimeout); err != nil {
		return nil, err
	}
	address, err := c.Address(svc, artieID)
	if err != nil {
		return nil, err
	}

	attempts := 0
	var last error
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.attempts-1)), ctx)
	err = backoff.RetryNotifyWithTimer(func() error {
		attempts++
		var err error
		result, err = c.invoke(ctx, svc, address, command, args)
		last = err
		var te *TransportError
		if err != nil && !errors.As(err, &te) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		c.retries.WithLabelValues(string(svc)).Inc()
		c.logger.CWarnw(ctx, "Exception when trying to run a function on a service connection",
			"service", svc, "command", command, "attempt", attempts, "retry_in", next, "error", err)
	}, &clockTimer{clk: c.clk})

	switch {
	case err == nil:
		return result, nil
	case ctx.Err() != nil:
		return nil, &TimeoutError{Service: svc, Address: address, Err: multierr.Combine(ctx.Err(), last)}
	case errors.As(err, new(*TransportError)):
		return nil, &CallError{Service: svc, Command: command, Attempts: attempts, Last: err}
	default:
		return nil, err
	}
}

// Close closes every connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs error
	for address, conn := range c.conns {
		errs = multierr.Append(errs, conn.Close())
		delete(c.conns, address)
	}
	return errs
}

// clockTimer is a backoff.Timer driven by a clock.Clock.
type clockTimer struct {
	clk   clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clk.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
