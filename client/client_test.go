package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/components/i2cbus"
	"github.com/artie-robot/artie/config"
	artiegrpc "github.com/artie-robot/artie/grpc"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/services/driver"
	"github.com/artie-robot/artie/services/mouth"
	"github.com/artie-robot/artie/services/resetmcu"
	"github.com/artie-robot/artie/submodule"
	"github.com/artie-robot/artie/swd"
)

// cluster routes dials by address to in-memory listeners.
type cluster struct {
	listeners map[string]*bufconn.Listener
}

func newCluster() *cluster {
	return &cluster{listeners: map[string]*bufconn.Listener{}}
}

func (c *cluster) serve(t *testing.T, address string, svc *driver.Service) {
	t.Helper()
	l := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	driver.Register(srv, svc)
	go srv.Serve(l)
	t.Cleanup(srv.Stop)
	c.listeners[address] = l
}

func (c *cluster) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	dialer := grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		l, ok := c.listeners[addr]
		if !ok {
			return nil, errors.Errorf("no route to %s", addr)
		}
		return l.DialContext(ctx)
	})
	opts = append([]Option{
		WithTestMode(true),
		WithDialOptions(artiegrpc.DialOptions{Caller: "client-test", Extra: []grpc.DialOption{dialer}}),
		WithRetryPolicy(3, time.Millisecond),
		WithProbeInterval(time.Millisecond),
		WithOnlineTimeout(time.Second),
	}, opts...)
	cl := New(logging.NewTestLogger(t), opts...)
	t.Cleanup(func() { test.That(t, cl.Close(), test.ShouldBeNil) })
	return cl
}

func startService(t *testing.T, name string, cmds ...driver.Command) *driver.Service {
	t.Helper()
	svc := driver.NewService(name, logging.NewTestLogger(t))
	test.That(t, svc.Register(append([]driver.Command{driver.WhoamiCommand(svc)}, cmds...)...), test.ShouldBeNil)
	svc.Start(context.Background())
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAddress(t *testing.T) {
	cl := New(logging.NewTestLogger(t), WithTestMode(false))
	addr, err := cl.Address(Mouth, "artie-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, "mouth-driver-artie-1:18862")
	addr, err = cl.Address(Reset, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, "reset-driver:18861")
	_, err = cl.Address("tail", "artie-1")
	test.That(t, errors.Is(err, ErrUnknownService), test.ShouldBeTrue)

	cl = New(logging.NewTestLogger(t), WithTestMode(true))
	addr, err = cl.Address(Eyebrows, "artie-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, "eyebrows-driver:18863")
}

func TestResolveArtieID(t *testing.T) {
	t.Setenv(config.ArtieIDEnvVar, "")
	ctx := context.Background()
	var ids []string
	src := ArtieIDSourceFunc(func(context.Context) ([]string, error) { return ids, nil })
	cl := New(logging.NewTestLogger(t), WithArtieIDSource(src))

	id, err := cl.ResolveArtieID(ctx, "explicit")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, "explicit")

	id, err = cl.ResolveArtieID(ctx, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, "")

	ids = []string{"artie-1"}
	id, err = cl.ResolveArtieID(ctx, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, "artie-1")

	ids = []string{"artie-1", "artie-2"}
	_, err = cl.ResolveArtieID(ctx, "")
	test.That(t, errors.Is(err, ErrAmbiguousArtieID), test.ShouldBeTrue)

	t.Setenv(config.ArtieIDEnvVar, "from-env")
	id, err = cl.ResolveArtieID(ctx, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, "from-env")

	cl = New(logging.NewTestLogger(t), WithArtieID("configured"), WithArtieIDSource(src))
	id, err = cl.ResolveArtieID(ctx, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, "configured")
}

func TestMouthStub(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sim := i2cbus.NewSimDriver(map[int][]byte{0: {0x19}})
	bus, err := i2cbus.New(context.Background(), sim, logger)
	test.That(t, err, test.ShouldBeNil)
	fwPath := filepath.Join(t.TempDir(), "mouth.elf")
	test.That(t, os.WriteFile(fwPath, []byte("elf"), 0o600), test.ShouldBeNil)

	drv, err := mouth.New(mouth.Config{
		Board:        boardconfig.Default(),
		Bus:          bus,
		Loader:       loaderFunc(func() {}),
		Resetter:     submodule.ResetterFunc(func(context.Context) error { return nil }),
		FirmwarePath: fwPath,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	drv.Start(context.Background())
	defer drv.Close()

	c := newCluster()
	c.serve(t, "mouth-driver:18862", drv.Service)
	m := c.client(t).Mouth("")
	ctx := context.Background()

	who, err := m.Whoami(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, who, test.ShouldContainSubstring, "artie-mouth-driver:")

	test.That(t, m.LcdDraw(ctx, "SMIRK"), test.ShouldBeNil)
	val, err := m.LcdGet(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldEqual, "SMIRK")

	test.That(t, m.LedOff(ctx), test.ShouldBeNil)
	val, err = m.LedGet(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldEqual, "off")

	err = m.LcdDraw(ctx, "WINK")
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)

	statuses, err := m.Status(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, statuses, test.ShouldResemble, map[string]string{"FW": "working", "LED": "working", "LCD": "working"})
}

type loaderFunc func()

func (f loaderFunc) Load(ctx context.Context, elfPath, ifaceFile string) (swd.Result, error) {
	f()
	return swd.Result{Simulated: true}, nil
}

func TestResetStub(t *testing.T) {
	var got []int
	svc := startService(t, resetmcu.ServiceName, driver.Command{
		Name:   resetmcu.CmdResetTarget,
		Queued: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var ra driver.ResetTargetArgs
			if err := driver.DecodeArgs(args, &ra); err != nil {
				return nil, err
			}
			got = append(got, *ra.Address)
			return nil, nil
		},
	})
	c := newCluster()
	c.serve(t, "reset-driver:18861", svc)
	r := c.client(t).Reset("artie-1")

	test.That(t, r.ResetTarget(context.Background(), 0x01), test.ShouldBeNil)
	test.That(t, r.ResetTarget(context.Background(), 0xFF), test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []int{0x01, 0xFF})
}

func TestRetriesTransportErrors(t *testing.T) {
	var calls, failures atomic.Int32
	failures.Store(2)
	svc := startService(t, mouth.ServiceName, driver.Command{
		Name: "flaky",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			if calls.Add(1) <= failures.Load() {
				return nil, status.Error(codes.Unavailable, "warming up")
			}
			return "ok", nil
		},
	})
	c := newCluster()
	c.serve(t, "mouth-driver:18862", svc)
	cl := c.client(t)
	ctx := context.Background()

	val, err := cl.Call(ctx, Mouth, "", "flaky", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldEqual, "ok")
	test.That(t, calls.Load(), test.ShouldEqual, 3)

	calls.Store(0)
	failures.Store(10)
	_, err = cl.Call(ctx, Mouth, "", "flaky", nil)
	var callErr *CallError
	test.That(t, errors.As(err, &callErr), test.ShouldBeTrue)
	test.That(t, callErr.Attempts, test.ShouldEqual, 3)
	var transportErr *TransportError
	test.That(t, errors.As(err, &transportErr), test.ShouldBeTrue)
	test.That(t, calls.Load(), test.ShouldEqual, 3)
}

func TestApplicationErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	svc := startService(t, mouth.ServiceName, driver.Command{
		Name: "draw",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			calls.Add(1)
			return nil, errors.Wrap(submodule.ErrInvalidDrawing, "WINK")
		},
	})
	c := newCluster()
	c.serve(t, "mouth-driver:18862", svc)

	_, err := c.client(t).Call(context.Background(), Mouth, "", "draw", nil)
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
	test.That(t, calls.Load(), test.ShouldEqual, 1)
}

func TestBlockUntilOnline(t *testing.T) {
	var whoamis atomic.Int32
	svc := driver.NewService(mouth.ServiceName, logging.NewTestLogger(t))
	test.That(t, svc.Register(driver.Command{
		Name: driver.CmdWhoami,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			whoamis.Add(1)
			return "artie-mouth-driver:test", nil
		},
	}), test.ShouldBeNil)
	svc.Start(context.Background())
	defer svc.Close()

	c := newCluster()
	c.serve(t, "mouth-driver:18862", svc)
	cl := c.client(t)
	ctx := context.Background()

	test.That(t, cl.BlockUntilOnline(ctx, Mouth, "", time.Second), test.ShouldBeNil)
	test.That(t, cl.BlockUntilOnline(ctx, Mouth, "", time.Second), test.ShouldBeNil)
	test.That(t, whoamis.Load(), test.ShouldEqual, 1)

	err := cl.BlockUntilOnline(ctx, Eyebrows, "", 50*time.Millisecond)
	var timeoutErr *TimeoutError
	test.That(t, errors.As(err, &timeoutErr), test.ShouldBeTrue)
	test.That(t, timeoutErr.Timeout, test.ShouldEqual, 50*time.Millisecond)
	test.That(t, timeoutErr.Service, test.ShouldEqual, Eyebrows)
}

func TestCallerDeadline(t *testing.T) {
	svc := startService(t, mouth.ServiceName, driver.Command{
		Name: "slow",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	c := newCluster()
	c.serve(t, "mouth-driver:18862", svc)
	cl := c.client(t)
	test.That(t, cl.BlockUntilOnline(context.Background(), Mouth, "", time.Second), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cl.Call(ctx, Mouth, "", "slow", nil)
	var timeoutErr *TimeoutError
	test.That(t, errors.As(err, &timeoutErr), test.ShouldBeTrue)
}
