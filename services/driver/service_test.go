package driver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	genericpb "go.viam.com/api/component/generic/v1"
	"go.viam.com/test"
	"go.viam.com/utils/protoutils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/artie-robot/artie/config"
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/submodule"
	"github.com/artie-robot/artie/swd"
)

func echo(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return args["val"], nil
}

func TestExecuteBeforeStart(t *testing.T) {
	t.Setenv(config.GitTagEnvVar, "")
	svc := NewService("mouth-driver", logging.NewTestLogger(t))
	test.That(t, svc.Register(WhoamiCommand(svc)), test.ShouldBeNil)

	_, err := svc.Execute(context.Background(), CmdWhoami, nil)
	test.That(t, errors.Is(err, ErrNotStarted), test.ShouldBeTrue)

	svc.Start(context.Background())
	defer svc.Close()
	val, err := svc.Execute(context.Background(), CmdWhoami, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldEqual, "artie-mouth-driver:unversioned")

	_, err = svc.Execute(context.Background(), "dance", nil)
	test.That(t, errors.Is(err, ErrUnknownCommand), test.ShouldBeTrue)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc := NewService("x", logging.NewTestLogger(t))
	test.That(t, svc.Register(Command{Name: "a", Handler: echo}), test.ShouldBeNil)
	test.That(t, svc.Register(Command{Name: "a", Handler: echo}), test.ShouldNotBeNil)
	test.That(t, svc.Register(Command{Name: "b"}), test.ShouldNotBeNil)
	test.That(t, svc.Commands(), test.ShouldResemble, []string{"a"})
}

func TestQueuedCommandsRunInOrderOnOneWorker(t *testing.T) {
	svc := NewService("x", logging.NewTestLogger(t))
	var mu sync.Mutex
	var order []int
	var running, maxRunning int
	test.That(t, svc.Register(Command{
		Name:   "step",
		Queued: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			mu.Lock()
			running++
			maxRunning = max(maxRunning, running)
			order = append(order, int(args["i"].(float64)))
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		},
	}), test.ShouldBeNil)
	svc.Start(context.Background())
	defer svc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Execute(context.Background(), "step", map[string]interface{}{"i": float64(i)})
			test.That(t, err, test.ShouldBeNil)
		}()
		// Give each caller time to enqueue before the next one.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
	test.That(t, maxRunning, test.ShouldEqual, 1)
	test.That(t, order, test.ShouldHaveLength, 5)
}

func TestQueuedCommandHonorsCallerDeadline(t *testing.T) {
	svc := NewService("x", logging.NewTestLogger(t))
	release := make(chan struct{})
	test.That(t, svc.Register(Command{
		Name:   "block",
		Queued: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			<-release
			return nil, nil
		},
	}), test.ShouldBeNil)
	svc.Start(context.Background())

	go func() {
		_, _ = svc.Execute(context.Background(), "block", nil)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Execute(ctx, "block", nil)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)

	close(release)
	test.That(t, svc.Close(), test.ShouldBeNil)
	_, err = svc.Execute(context.Background(), "block", nil)
	test.That(t, errors.Is(err, ErrNotStarted), test.ShouldBeTrue)
}

func TestQueuedCommandOutlivesCaller(t *testing.T) {
	svc := NewService("x", logging.NewTestLogger(t))
	finished := make(chan error, 1)
	test.That(t, svc.Register(Command{
		Name:   "flash",
		Queued: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			finished <- ctx.Err()
			return nil, nil
		},
	}), test.ShouldBeNil)
	svc.Start(context.Background())
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := svc.Execute(ctx, "flash", nil)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)

	select {
	case err := <-finished:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not run to completion")
	}
}

func TestCloseWhileExecuting(t *testing.T) {
	for i := 0; i < 20; i++ {
		svc := NewService("x", logging.NewTestLogger(t), WithQueueSize(4))
		test.That(t, svc.Register(Command{Name: "step", Queued: true, Handler: echo}), test.ShouldBeNil)
		svc.Start(context.Background())

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Execute(context.Background(), "step", nil)
				if err != nil {
					test.That(t, errors.Is(err, ErrNotStarted), test.ShouldBeTrue)
				}
			}()
		}
		test.That(t, svc.Close(), test.ShouldBeNil)

		returned := make(chan struct{})
		go func() {
			wg.Wait()
			close(returned)
		}()
		select {
		case <-returned:
		case <-time.After(5 * time.Second):
			t.Fatal("Execute blocked after Close")
		}
	}
}

func TestPanickingHandler(t *testing.T) {
	svc := NewService("x", logging.NewTestLogger(t))
	test.That(t, svc.Register(Command{
		Name:    "boom",
		Queued:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) { panic("boom") },
	}), test.ShouldBeNil)
	svc.Start(context.Background())
	defer svc.Close()

	_, err := svc.Execute(context.Background(), "boom", nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "panicked")
}

func TestCode(t *testing.T) {
	test.That(t, Code(nil), test.ShouldEqual, codes.OK)
	test.That(t, Code(errors.Wrap(submodule.ErrInvalidDrawing, "x")), test.ShouldEqual, codes.InvalidArgument)
	test.That(t, Code(errors.Wrap(ErrUnknownCommand, "x")), test.ShouldEqual, codes.InvalidArgument)
	test.That(t, Code(errors.Wrap(swd.ErrFileNotFound, "x")), test.ShouldEqual, codes.FailedPrecondition)
	test.That(t, Code(ErrNotStarted), test.ShouldEqual, codes.FailedPrecondition)
	test.That(t, Code(context.DeadlineExceeded), test.ShouldEqual, codes.DeadlineExceeded)
	test.That(t, Code(&swd.LoadError{ExitCode: 1}), test.ShouldEqual, codes.Internal)
	test.That(t, Code(errors.New("bus on fire")), test.ShouldEqual, codes.Internal)
}

func TestDecodeArgs(t *testing.T) {
	var rt ResetTargetArgs
	test.That(t, DecodeArgs(map[string]interface{}{"address": float64(1)}, &rt), test.ShouldBeNil)
	test.That(t, *rt.Address, test.ShouldEqual, 1)

	var draw DrawArgs
	test.That(t, DecodeArgs(map[string]interface{}{"side": "left", "val": "SMILE"}, &draw), test.ShouldBeNil)
	test.That(t, draw, test.ShouldResemble, DrawArgs{Side: "left", Val: "SMILE"})

	err := DecodeArgs(map[string]interface{}{"address": "not-a-number"}, &rt)
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
}

type fakeSub struct {
	name  string
	st    submodule.Status
	calls int
}

func (f *fakeSub) Status() map[string]submodule.Status { return map[string]submodule.Status{f.name: f.st} }

func (f *fakeSub) SelfCheck(ctx context.Context) error {
	f.calls++
	f.st = submodule.Degraded
	return errors.New("led did not blink")
}

func TestStatusAndSelfCheckCommands(t *testing.T) {
	svc := NewService("x", logging.NewTestLogger(t))
	led := &fakeSub{name: "LED", st: submodule.Working}
	lcd := &fakeSub{name: "LCD", st: submodule.NotWorking}
	test.That(t, svc.Register(StatusCommand(led, lcd), SelfCheckCommand(svc, led, lcd)), test.ShouldBeNil)
	svc.Start(context.Background())
	defer svc.Close()

	val, err := svc.Execute(context.Background(), CmdStatus, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldResemble, map[string]interface{}{"LED": "working", "LCD": "not working"})

	val, err = svc.Execute(context.Background(), CmdSelfCheck, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldResemble, map[string]interface{}{"LED": "degraded", "LCD": "degraded"})
	test.That(t, led.calls, test.ShouldEqual, 1)
	test.That(t, lcd.calls, test.ShouldEqual, 1)
}

func TestGRPCServer(t *testing.T) {
	t.Setenv(config.GitTagEnvVar, "")
	svc := NewService("mouth-driver", logging.NewTestLogger(t))
	test.That(t, svc.Register(
		WhoamiCommand(svc),
		Command{Name: "echo", Queued: true, Handler: echo},
		Command{Name: "draw", Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.Wrap(submodule.ErrInvalidDrawing, "WINK")
		}},
	), test.ShouldBeNil)
	svc.Start(context.Background())
	defer svc.Close()

	listener := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, svc)
	go srv.Serve(listener)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	client := genericpb.NewGenericServiceClient(conn)

	call := func(cmd map[string]interface{}) (*commonpb.DoCommandResponse, error) {
		pb, err := protoutils.StructToStructPb(cmd)
		test.That(t, err, test.ShouldBeNil)
		return client.DoCommand(context.Background(), &commonpb.DoCommandRequest{Name: "mouth-driver", Command: pb})
	}

	resp, err := call(map[string]interface{}{"command": "whoami"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Result.AsMap()[ResultKey], test.ShouldEqual, "artie-mouth-driver:unversioned")

	resp, err = call(map[string]interface{}{"command": "echo", "val": "SMIRK"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Result.AsMap()[ResultKey], test.ShouldEqual, "SMIRK")

	_, err = call(map[string]interface{}{"command": "draw"})
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)
	test.That(t, status.Convert(err).Message(), test.ShouldContainSubstring, "WINK")

	_, err = call(map[string]interface{}{"val": "x"})
	test.That(t, status.Code(err), test.ShouldEqual, codes.InvalidArgument)

	_, err = client.DoCommand(context.Background(), &commonpb.DoCommandRequest{Name: "eyebrows-driver"})
	test.That(t, status.Code(err), test.ShouldEqual, codes.NotFound)
}
