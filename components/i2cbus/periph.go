package i2cbus

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PeriphDriver talks to the host's /dev/i2c-* character devices through periph.io.
type PeriphDriver struct {
	mu    sync.Mutex
	refs  map[int]string
	buses map[int]i2c.BusCloser
}

// NewPeriphDriver initializes the periph.io host drivers and returns a Driver over every I2C bus
// they registered.
func NewPeriphDriver() (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init failed")
	}
	refs := make(map[int]string)
	for _, ref := range i2creg.All() {
		if ref.Number >= 0 {
			refs[ref.Number] = ref.Name
		}
	}
	return &PeriphDriver{refs: refs, buses: make(map[int]i2c.BusCloser)}, nil
}

// Instances implements Driver.
func (d *PeriphDriver) Instances(ctx context.Context) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	instances := make([]int, 0, len(d.refs))
	for number := range d.refs {
		instances = append(instances, number)
	}
	slices.Sort(instances)
	return instances, nil
}

// open lazily opens instance. The mutex must be held.
func (d *PeriphDriver) open(instance int) (i2c.BusCloser, error) {
	if bus, ok := d.buses[instance]; ok {
		return bus, nil
	}
	name, ok := d.refs[instance]
	if !ok {
		return nil, errors.Errorf("no i2c instance %d", instance)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, err
	}
	d.buses[instance] = bus
	return bus, nil
}

// Probe implements Driver. A one-byte read is acknowledged by any present device, like i2cdetect
// does for this address range.
func (d *PeriphDriver) Probe(ctx context.Context, instance int, addr byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	bus, err := d.open(instance)
	if err != nil {
		return false
	}
	return bus.Tx(uint16(addr), nil, make([]byte, 1)) == nil
}

// WriteByte implements Driver.
func (d *PeriphDriver) WriteByte(ctx context.Context, instance int, addr, data byte) error {
	return d.tx(instance, addr, []byte{data})
}

// WriteBlockData implements Driver.
func (d *PeriphDriver) WriteBlockData(ctx context.Context, instance int, addr, register byte, data []byte) error {
	return d.tx(instance, addr, append([]byte{register}, data...))
}

func (d *PeriphDriver) tx(instance int, addr byte, w []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bus, err := d.open(instance)
	if err != nil {
		return err
	}
	return bus.Tx(uint16(addr), w, nil)
}

// Close implements Driver.
func (d *PeriphDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	for instance, bus := range d.buses {
		err = multierr.Combine(err, bus.Close())
		delete(d.buses, instance)
	}
	return err
}
