package gpio

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/artie-robot/artie/logging"
)

// SimBackend is the backend used off the SBC: it records what would have been output and logs it.
type SimBackend struct {
	mu          sync.Mutex
	logger      logging.Logger
	high        bool
	duty        float64
	pwm         bool
	dutyChanges int
	fail        error
}

// NewSimBackend returns a simulated pin that starts low.
func NewSimBackend(logger logging.Logger) *SimBackend {
	return &SimBackend{logger: logger}
}

// SetLevel implements Backend.
func (s *SimBackend) SetLevel(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.logger.Debugw("simulated gpio level", "high", high)
	s.high = high
	s.pwm = false
	if high {
		s.duty = 1
	} else {
		s.duty = 0
	}
	return nil
}

// Level implements Backend.
func (s *SimBackend) Level() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	return s.high, nil
}

// SetDuty implements Backend.
func (s *SimBackend) SetDuty(duty float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if duty < 0 || duty > 1 {
		return errors.Errorf("duty cycle %v out of range", duty)
	}
	s.duty = duty
	s.pwm = true
	s.high = duty > 0
	s.dutyChanges++
	return nil
}

// Close implements Backend.
func (s *SimBackend) Close() error {
	return nil
}

// Duty returns the last duty cycle and whether PWM output is active.
func (s *SimBackend) Duty() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty, s.pwm
}

// DutyChanges returns how many times SetDuty succeeded.
func (s *SimBackend) DutyChanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dutyChanges
}

// Fail makes every subsequent call return err. A nil err clears the failure.
func (s *SimBackend) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}
