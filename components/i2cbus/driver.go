package i2cbus

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Driver is the host-specific access to the I2C instances. Implementations need not be safe for
// concurrent use; Bus serializes every call.
type Driver interface {
	// Instances lists the bus numbers present on the host.
	Instances(ctx context.Context) ([]int, error)
	// Probe reports whether a device acknowledges addr on instance.
	Probe(ctx context.Context, instance int, addr byte) bool
	// WriteByte issues a single-byte write.
	WriteByte(ctx context.Context, instance int, addr, data byte) error
	// WriteBlockData writes data to register.
	WriteBlockData(ctx context.Context, instance int, addr, register byte, data []byte) error
	Close() error
}

// SimWrite is one transaction recorded by a SimDriver.
type SimWrite struct {
	Instance int
	Address  byte
	Bytes    []byte
}

// SimDriver is an in-memory Driver with a fixed topology. It records every write and can be told
// to fail writes to particular addresses.
type SimDriver struct {
	mu       sync.Mutex
	topology map[int][]byte
	writes   []SimWrite
	failures map[byte]error
}

// NewSimDriver returns a simulated host whose instances hold the given addresses.
func NewSimDriver(topology map[int][]byte) *SimDriver {
	copied := make(map[int][]byte, len(topology))
	for instance, addrs := range topology {
		copied[instance] = slices.Clone(addrs)
	}
	return &SimDriver{topology: copied, failures: map[byte]error{}}
}

// Instances implements Driver.
func (d *SimDriver) Instances(ctx context.Context) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	instances := lo.Keys(d.topology)
	slices.Sort(instances)
	return instances, nil
}

// Probe implements Driver.
func (d *SimDriver) Probe(ctx context.Context, instance int, addr byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.topology[instance], addr)
}

// WriteByte implements Driver.
func (d *SimDriver) WriteByte(ctx context.Context, instance int, addr, data byte) error {
	return d.record(instance, addr, []byte{data})
}

// WriteBlockData implements Driver.
func (d *SimDriver) WriteBlockData(ctx context.Context, instance int, addr, register byte, data []byte) error {
	return d.record(instance, addr, append([]byte{register}, data...))
}

func (d *SimDriver) record(instance int, addr byte, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failures[addr]; ok {
		return err
	}
	if _, ok := d.topology[instance]; !ok {
		return errors.Errorf("no i2c instance %d", instance)
	}
	d.writes = append(d.writes, SimWrite{Instance: instance, Address: addr, Bytes: data})
	return nil
}

// Close implements Driver.
func (d *SimDriver) Close() error {
	return nil
}

// Writes returns a copy of the recorded transactions.
func (d *SimDriver) Writes() []SimWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.writes)
}

// ResetWrites forgets the recorded transactions.
func (d *SimDriver) ResetWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

// FailWrites makes every write to addr return err until cleared with a nil err.
func (d *SimDriver) FailWrites(addr byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, addr)
		return
	}
	d.failures[addr] = err
}

// SetPresent adds or removes addr from instance, as if a device was powered or unplugged.
func (d *SimDriver) SetPresent(instance int, addr byte, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	addrs := lo.Without(d.topology[instance], addr)
	if present {
		addrs = append(addrs, addr)
	}
	d.topology[instance] = addrs
}
