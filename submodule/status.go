// Package submodule implements the LED, LCD, and firmware submodules of the peripheral MCUs. Each
// submodule encodes its commands onto the I2C bus, remembers the last state it set, and tracks
// whether the hardware behind it is working.
package submodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	goutils "go.viam.com/utils"
)

// Status is the health of a submodule as last observed.
type Status int

// The submodule statuses.
const (
	Unknown Status = iota
	Working
	Degraded
	NotWorking
)

func (s Status) String() string {
	switch s {
	case Working:
		return "working"
	case Degraded:
		return "degraded"
	case NotWorking:
		return "not working"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText encodes the status as its wire string.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Writer puts a command on the I2C bus.
type Writer interface {
	Write(ctx context.Context, addr byte, data uint64) error
}

// Prober asks the I2C bus whether an address acknowledges.
type Prober interface {
	ProbeAddress(ctx context.Context, addr byte) (int, bool)
}

// Bus is the part of an I2C bus a driver's submodules use.
type Bus interface {
	Writer
	Prober
}

// Submodule is the contract shared by every flavour.
type Submodule interface {
	Status() map[string]Status
	SelfCheck(ctx context.Context) error
}

// cell holds one status value.
type cell struct {
	mu     sync.Mutex
	status Status
}

func (c *cell) get() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *cell) set(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// record sets Working or NotWorking from the outcome of an operation and passes err through.
func (c *cell) record(err error) error {
	if err != nil {
		c.set(NotWorking)
	} else {
		c.set(Working)
	}
	return err
}

// selfCheckStatus is the outcome of an exercise-and-restore check.
func selfCheckStatus(exerciseErr, restoreErr error, restored bool) Status {
	switch {
	case exerciseErr == nil && restoreErr == nil:
		return Working
	case exerciseErr != nil && restored && restoreErr == nil:
		return Degraded
	default:
		return NotWorking
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if !goutils.SelectContextOrWait(ctx, d) {
		return ctx.Err()
	}
	return nil
}
