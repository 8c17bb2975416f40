package gpio

import (
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
)

type fakePin struct {
	mu     sync.Mutex
	value  byte
	writes int
	closed bool
}

func (p *fakePin) SetValue(value byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = value
	p.writes++
	return nil
}

func (p *fakePin) Value() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, nil
}

func (p *fakePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePin) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func TestSoftPWMRestartKeepsOneLoop(t *testing.T) {
	pin := &fakePin{}
	pwm := newSoftPWM(pin)

	for i := 0; i < 20; i++ {
		test.That(t, pwm.SetDuty(0.5), test.ShouldBeNil)
		test.That(t, pwm.SetDuty(0.25), test.ShouldBeNil)
		test.That(t, pwm.active.Load(), test.ShouldEqual, int32(1))
		test.That(t, pwm.SetLevel(false), test.ShouldBeNil)
		test.That(t, pwm.active.Load(), test.ShouldEqual, int32(0))
	}

	// Nothing toggles the pin once a level is set.
	writes := pin.writeCount()
	time.Sleep(30 * time.Millisecond)
	test.That(t, pin.writeCount(), test.ShouldEqual, writes)
	high, err := pwm.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeFalse)
}

func TestSoftPWMToggles(t *testing.T) {
	pin := &fakePin{}
	pwm := newSoftPWM(pin)

	test.That(t, pwm.SetDuty(0.5), test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)
	test.That(t, pin.writeCount(), test.ShouldBeGreaterThan, 2)

	test.That(t, pwm.SetDuty(1), test.ShouldBeNil)
	test.That(t, pwm.active.Load(), test.ShouldEqual, int32(0))
	high, err := pwm.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)

	test.That(t, pwm.SetDuty(1.5), test.ShouldNotBeNil)

	test.That(t, pwm.SetDuty(0.5), test.ShouldBeNil)
	test.That(t, pwm.Close(), test.ShouldBeNil)
	test.That(t, pwm.active.Load(), test.ShouldEqual, int32(0))
	test.That(t, pin.closed, test.ShouldBeTrue)
}
