package gpio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// outputPin is a pin that can only be driven high or low.
type outputPin interface {
	SetValue(value byte) error
	Value() (byte, error)
	Close() error
}

// softPWM is a Backend that generates PWM by toggling an outputPin from a goroutine. At most one
// toggling loop exists at a time.
type softPWM struct {
	pin outputPin

	mu   sync.Mutex
	duty float64
	loop *pwmLoop
	// exited is closed when the most recently started loop has returned.
	exited <-chan struct{}
	active atomic.Int32
}

type pwmLoop struct {
	stop chan struct{}
	done chan struct{}
}

func newSoftPWM(pin outputPin) *softPWM {
	return &softPWM{pin: pin}
}

// write drives the pin. The mutex must be held.
func (s *softPWM) write(high bool) error {
	var value byte
	if high {
		value = 1
	}
	return s.pin.SetValue(value)
}

// stopLoop stops the running loop, if any, and waits for it to return.
func (s *softPWM) stopLoop() {
	s.mu.Lock()
	loop := s.loop
	s.loop = nil
	if loop != nil {
		close(loop.stop)
	}
	s.mu.Unlock()
	if loop != nil {
		<-loop.done
	}
}

func (s *softPWM) SetLevel(high bool) error {
	s.stopLoop()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(high)
}

func (s *softPWM) Level() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, err := s.pin.Value()
	if err != nil {
		return false, err
	}
	return value != 0, nil
}

// SetDuty changes the duty cycle, starting the loop if none runs. Duty 0 and 1 are plain levels.
func (s *softPWM) SetDuty(duty float64) error {
	if duty < 0 || duty > 1 {
		return errors.Errorf("duty cycle %v out of range", duty)
	}
	if duty == 0 || duty == 1 {
		return s.SetLevel(duty == 1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.duty = duty
	if s.loop != nil {
		return nil
	}
	if prev := s.exited; prev != nil {
		s.mu.Unlock()
		<-prev
		s.mu.Lock()
		if s.loop != nil {
			return nil
		}
	}

	loop := &pwmLoop{stop: make(chan struct{}), done: make(chan struct{})}
	s.loop = loop
	s.exited = loop.done
	s.active.Add(1)
	goutils.ManagedGo(func() { s.run(loop) }, func() {
		s.active.Add(-1)
		close(loop.done)
	})
	return nil
}

func (s *softPWM) run(loop *pwmLoop) {
	high := true
	for {
		s.mu.Lock()
		select {
		case <-loop.stop:
			s.mu.Unlock()
			return
		default:
		}
		duty := s.duty
		// A failed toggle is retried on the next half cycle.
		goutils.UncheckedError(s.write(high))
		s.mu.Unlock()

		if !high {
			duty = 1 - duty
		}
		select {
		case <-loop.stop:
			return
		case <-time.After(time.Duration(float64(time.Second) * duty / PwmFrequencyHz)):
		}
		high = !high
	}
}

func (s *softPWM) Close() error {
	s.stopLoop()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin.Close()
}
