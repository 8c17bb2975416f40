package gpio

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/platformdetector"
)

func newTestLine(t *testing.T) (*Line, *SimBackend) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	backend := NewSimBackend(logger)
	line := NewLine("LED_PIN", backend, logger)
	t.Cleanup(func() {
		test.That(t, line.Close(), test.ShouldBeNil)
	})
	return line, backend
}

func TestSetHighLow(t *testing.T) {
	ctx := context.Background()
	line, backend := newTestLine(t)

	test.That(t, line.SetHigh(ctx), test.ShouldBeNil)
	high, err := line.Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)

	// Idempotent.
	test.That(t, line.SetHigh(ctx), test.ShouldBeNil)
	high, err = line.Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)

	test.That(t, line.SetLow(ctx), test.ShouldBeNil)
	high, err = line.Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeFalse)

	duty, pwm := backend.Duty()
	test.That(t, duty, test.ShouldEqual, 0)
	test.That(t, pwm, test.ShouldBeFalse)
}

func TestBackendFailure(t *testing.T) {
	ctx := context.Background()
	line, backend := newTestLine(t)

	backend.Fail(errors.New("device busy"))
	err := line.SetHigh(ctx)
	test.That(t, errors.Is(err, ErrGpio), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device busy")

	_, err = line.Get(ctx)
	test.That(t, errors.Is(err, ErrGpio), test.ShouldBeTrue)

	err = line.PulseHeartbeat(DefaultHeartbeatPeriod)
	test.That(t, errors.Is(err, ErrGpio), test.ShouldBeTrue)
	test.That(t, line.Running(), test.ShouldBeFalse)

	backend.Fail(nil)
	test.That(t, line.SetHigh(ctx), test.ShouldBeNil)
}

func TestHeartbeatRamps(t *testing.T) {
	line, backend := newTestLine(t)

	// 20ms period: 100us per step.
	test.That(t, line.PulseHeartbeat(20*time.Millisecond), test.ShouldBeNil)
	test.That(t, line.Running(), test.ShouldBeTrue)
	time.Sleep(100 * time.Millisecond)

	test.That(t, backend.DutyChanges(), test.ShouldBeGreaterThan, 10)
	_, pwm := backend.Duty()
	test.That(t, pwm, test.ShouldBeTrue)

	line.Stop()
	test.That(t, line.Running(), test.ShouldBeFalse)
	changes := backend.DutyChanges()
	time.Sleep(10 * time.Millisecond)
	test.That(t, backend.DutyChanges(), test.ShouldEqual, changes)
}

func TestHeartbeatCancelledBySetLow(t *testing.T) {
	ctx := context.Background()
	line, backend := newTestLine(t)

	test.That(t, line.PulseHeartbeat(DefaultHeartbeatPeriod), test.ShouldBeNil)
	time.Sleep(30 * time.Millisecond)

	// One step is 2s / 2 / 100 = 10ms.
	start := time.Now()
	test.That(t, line.SetLow(ctx), test.ShouldBeNil)
	test.That(t, time.Since(start), test.ShouldBeLessThan, 50*time.Millisecond)
	test.That(t, line.Running(), test.ShouldBeFalse)

	changes := backend.DutyChanges()
	time.Sleep(30 * time.Millisecond)
	test.That(t, backend.DutyChanges(), test.ShouldEqual, changes)

	high, err := line.Get(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeFalse)
	_, pwm := backend.Duty()
	test.That(t, pwm, test.ShouldBeFalse)
}

func TestHeartbeatReplacesPattern(t *testing.T) {
	line, _ := newTestLine(t)
	test.That(t, line.PulseHeartbeat(DefaultHeartbeatPeriod), test.ShouldBeNil)
	test.That(t, line.PulseHeartbeat(time.Second), test.ShouldBeNil)
	test.That(t, line.Running(), test.ShouldBeTrue)

	test.That(t, line.PulseHeartbeat(0), test.ShouldNotBeNil)
}

func TestOutputMetrics(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	reg := prometheus.NewRegistry()
	line := NewLine("RESET_RESET", NewSimBackend(logger), logger, WithRegisterer(reg))

	test.That(t, line.SetHigh(ctx), test.ShouldBeNil)
	test.That(t, line.SetLow(ctx), test.ShouldBeNil)
	test.That(t, line.SetLow(ctx), test.ShouldBeNil)
	test.That(t, testutil.ToFloat64(line.outputs.WithLabelValues("RESET_RESET", "false")), test.ShouldEqual, 2)
	test.That(t, testutil.ToFloat64(line.outputs.WithLabelValues("RESET_RESET", "true")), test.ShouldEqual, 1)
	test.That(t, line.Close(), test.ShouldBeNil)
}

func TestNewBackendForHost(t *testing.T) {
	logger := logging.NewTestLogger(t)

	backend, err := NewBackendForHost(platformdetector.Host{OS: "darwin", Arch: "arm64"}, false, 18, logger)
	test.That(t, err, test.ShouldBeNil)
	_, ok := backend.(*SimBackend)
	test.That(t, ok, test.ShouldBeTrue)

	backend, err = NewBackendForHost(platformdetector.Host{OS: "linux", Arch: "arm64"}, true, 18, logger)
	test.That(t, err, test.ShouldBeNil)
	_, ok = backend.(*SimBackend)
	test.That(t, ok, test.ShouldBeTrue)
}
