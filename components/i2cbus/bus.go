// Package i2cbus owns every I2C interaction of a driver process. A Bus discovers which addresses
// respond on which bus instances and serializes all transactions behind one lock.
package i2cbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"

	"github.com/artie-robot/artie/logging"
)

var (
	// ErrBusWrite is returned when the driver fails a write transaction.
	ErrBusWrite = errors.New("i2c bus write failed")
	// ErrUnknownAddress is logged when writing to an address not found during discovery, and
	// returned only when there is no instance at all to attempt the write on.
	ErrUnknownAddress = errors.New("i2c address not found on any instance")
	// ErrNoInstances is returned by New when discovery finds no bus instance at all.
	ErrNoInstances = errors.New("no i2c instances found")
	// ErrNoSuchInstance is returned when asking about a bus instance that does not exist.
	ErrNoSuchInstance = errors.New("no such i2c instance")
)

// Addresses probed during discovery. The ranges below 0x08 and above 0x77 are reserved.
const (
	firstProbeAddr = 0x08
	lastProbeAddr  = 0x77
)

// ByteWidth is the number of bytes used to put data on the wire: the minimal big-endian width,
// and never less than one byte.
func ByteWidth(data uint64) int {
	return max(1, (bits.Len64(data)+7)/8)
}

// Topology is the result of discovery. Every address belongs to at most one instance.
type Topology struct {
	Instances          []int
	AddressToInstance  map[byte]int
	InstanceToAddrsMap map[int][]byte
}

// Option configures a Bus.
type Option func(*Bus)

// WithRegisterer registers the bus metrics on reg. Without it the metrics are kept but not
// exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bus) {
		b.registerer = reg
	}
}

// WithTopology skips hardware discovery and uses the given instance-to-addresses map, as the test
// run modes do.
func WithTopology(instanceToAddrs map[int][]byte) Option {
	return func(b *Bus) {
		b.fixed = instanceToAddrs
	}
}

// Bus is the shared I2C resource.
type Bus struct {
	mu       sync.Mutex
	driver   Driver
	topology Topology
	fixed    map[int][]byte
	logger   logging.Logger

	registerer   prometheus.Registerer
	bytesWritten *prometheus.CounterVec
	writeErrors  *prometheus.CounterVec
}

// New builds a Bus over driver and runs discovery.
func New(ctx context.Context, driver Driver, logger logging.Logger, opts ...Option) (*Bus, error) {
	b := &Bus{driver: driver, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	factory := promauto.With(b.registerer)
	b.bytesWritten = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "artie_i2c_bytes_written_total",
		Help: "Number of bytes written to the i2c bus.",
	}, []string{"address"})
	b.writeErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "artie_i2c_write_errors_total",
		Help: "Number of failed i2c write transactions.",
	}, []string{"address"})

	if err := b.Rescan(ctx); err != nil {
		return nil, err
	}
	if b.fixed == nil && len(b.topology.Instances) == 0 {
		return nil, ErrNoInstances
	}
	return b, nil
}

// WriteError is a write transaction the driver failed. It matches ErrBusWrite and unwraps to the
// driver's error.
type WriteError struct {
	Address  byte
	Instance int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%v: address 0x%02x on instance %d: %v", ErrBusWrite, e.Address, e.Instance, e.Err)
}

// Is reports whether target is ErrBusWrite.
func (e *WriteError) Is(target error) bool {
	return target == ErrBusWrite
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Rescan re-runs discovery and replaces the cached topology.
func (b *Bus) Rescan(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var instanceToAddrs map[int][]byte
	if b.fixed != nil {
		instanceToAddrs = b.fixed
	} else {
		instances, err := b.driver.Instances(ctx)
		if err != nil {
			return errors.Wrap(err, "listing i2c instances")
		}
		instanceToAddrs = make(map[int][]byte, len(instances))
		for _, instance := range instances {
			var found []byte
			for addr := byte(firstProbeAddr); addr <= lastProbeAddr; addr++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if b.driver.Probe(ctx, instance, addr) {
					found = append(found, addr)
				}
			}
			instanceToAddrs[instance] = found
		}
	}

	b.topology = b.buildTopology(instanceToAddrs)
	b.logger.Infow("i2c topology", "instances", b.topology.Instances, "addresses", b.topology.InstanceToAddrsMap)
	return nil
}

func (b *Bus) buildTopology(instanceToAddrs map[int][]byte) Topology {
	instances := lo.Keys(instanceToAddrs)
	slices.Sort(instances)
	topo := Topology{
		Instances:          instances,
		AddressToInstance:  make(map[byte]int),
		InstanceToAddrsMap: make(map[int][]byte, len(instances)),
	}
	for _, instance := range instances {
		addrs := make([]byte, 0, len(instanceToAddrs[instance]))
		for _, addr := range instanceToAddrs[instance] {
			if owner, dup := topo.AddressToInstance[addr]; dup {
				b.logger.Warnf("address 0x%02x responds on instances %d and %d; using %d", addr, owner, instance, owner)
				continue
			}
			topo.AddressToInstance[addr] = instance
			addrs = append(addrs, addr)
		}
		topo.InstanceToAddrsMap[instance] = addrs
	}
	return topo
}

// ListInstances returns the discovered bus instances.
func (b *Bus) ListInstances() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.topology.Instances)
}

// ListAddresses returns the addresses found on instance.
func (b *Bus) ListAddresses(instance int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addrs, ok := b.topology.InstanceToAddrsMap[instance]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchInstance, "instance %d", instance)
	}
	return slices.Clone(addrs), nil
}

// CheckForAddress returns the instance addr was discovered on.
func (b *Bus) CheckForAddress(addr byte) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	instance, ok := b.topology.AddressToInstance[addr]
	return instance, ok
}

// ProbeAddress asks the hardware whether addr acknowledges right now, and updates the cached
// topology with the answer.
func (b *Bus) ProbeAddress(ctx context.Context, addr byte) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.topology.Instances
	if instance, ok := b.topology.AddressToInstance[addr]; ok {
		candidates = append([]int{instance}, lo.Without(candidates, instance)...)
	}
	for _, instance := range candidates {
		if b.driver.Probe(ctx, instance, addr) {
			if _, ok := b.topology.AddressToInstance[addr]; !ok {
				b.topology.AddressToInstance[addr] = instance
				b.topology.InstanceToAddrsMap[instance] = append(b.topology.InstanceToAddrsMap[instance], addr)
			}
			return instance, true
		}
	}
	if owner, ok := b.topology.AddressToInstance[addr]; ok {
		delete(b.topology.AddressToInstance, addr)
		b.topology.InstanceToAddrsMap[owner] = lo.Without(b.topology.InstanceToAddrsMap[owner], addr)
	}
	return 0, false
}

// Write puts data on the wire to addr using ByteWidth(data) bytes, big-endian. A single byte is
// a plain byte write; wider values use the first byte as the register and the rest as block data.
func (b *Bus) Write(ctx context.Context, addr byte, data uint64) error {
	n := ByteWidth(data)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], data)
	payload := buf[8-n:]

	b.mu.Lock()
	defer b.mu.Unlock()

	label := fmt.Sprintf("0x%02x", addr)
	instance, ok := b.topology.AddressToInstance[addr]
	if !ok {
		if len(b.topology.Instances) == 0 {
			b.writeErrors.WithLabelValues(label).Inc()
			return errors.Wrapf(ErrUnknownAddress, "address 0x%02x", addr)
		}
		instance = b.topology.Instances[0]
		b.logger.Warnw("cannot find address on i2c bus, trying to write anyway",
			"address", label, "instance", instance, "error", ErrUnknownAddress)
	}

	var err error
	if n == 1 {
		err = b.driver.WriteByte(ctx, instance, addr, payload[0])
	} else {
		err = b.driver.WriteBlockData(ctx, instance, addr, payload[0], payload[1:])
	}
	if err != nil {
		b.writeErrors.WithLabelValues(label).Inc()
		return errors.WithStack(&WriteError{Address: addr, Instance: instance, Err: err})
	}
	b.bytesWritten.WithLabelValues(label).Add(float64(n))
	b.logger.Debugw("i2c write", "address", label, "instance", instance, "bytes", n)
	return nil
}

// Close releases the driver.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.driver.Close()
}
