package i2cbus

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"

	"github.com/artie-robot/artie/logging"
)

func TestByteWidth(t *testing.T) {
	for data, expected := range map[uint64]int{
		0:                  1,
		1:                  1,
		0x43:               1,
		0xFF:               1,
		0x100:              2,
		0xFFFF:             2,
		0x10000:            3,
		0xFFFFFFFFFFFFFFFF: 8,
	} {
		test.That(t, ByteWidth(data), test.ShouldEqual, expected)
	}
}

func newTestBus(t *testing.T, topology map[int][]byte, opts ...Option) (*Bus, *SimDriver) {
	t.Helper()
	driver := NewSimDriver(topology)
	bus, err := New(context.Background(), driver, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return bus, driver
}

func TestDiscovery(t *testing.T) {
	bus, _ := newTestBus(t, map[int][]byte{
		1: {0x19, 0x20},
		3: {0x17, 0x18, 0x19},
	})

	test.That(t, bus.ListInstances(), test.ShouldResemble, []int{1, 3})

	addrs, err := bus.ListAddresses(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addrs, test.ShouldResemble, []byte{0x19, 0x20})

	// 0x19 answered on both instances and belongs to the first.
	addrs, err = bus.ListAddresses(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addrs, test.ShouldResemble, []byte{0x17, 0x18})

	_, err = bus.ListAddresses(7)
	test.That(t, errors.Is(err, ErrNoSuchInstance), test.ShouldBeTrue)

	instance, ok := bus.CheckForAddress(0x17)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, instance, test.ShouldEqual, 3)

	_, ok = bus.CheckForAddress(0x55)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDiscoveryIgnoresReservedAddresses(t *testing.T) {
	bus, _ := newTestBus(t, map[int][]byte{1: {0x03, 0x19, 0x78}})
	addrs, err := bus.ListAddresses(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addrs, test.ShouldResemble, []byte{0x19})
}

func TestFixedTopology(t *testing.T) {
	driver := NewSimDriver(map[int][]byte{0: {}})
	bus, err := New(context.Background(), driver, logging.NewTestLogger(t),
		WithTopology(map[int][]byte{0: {0x19}}))
	test.That(t, err, test.ShouldBeNil)
	instance, ok := bus.CheckForAddress(0x19)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, instance, test.ShouldEqual, 0)
}

func TestWriteSingleByte(t *testing.T) {
	bus, driver := newTestBus(t, map[int][]byte{1: {0x19}})

	test.That(t, bus.Write(context.Background(), 0x19, 0x43), test.ShouldBeNil)
	test.That(t, driver.Writes(), test.ShouldResemble, []SimWrite{{Instance: 1, Address: 0x19, Bytes: []byte{0x43}}})

	driver.ResetWrites()
	test.That(t, bus.Write(context.Background(), 0x19, 0), test.ShouldBeNil)
	test.That(t, driver.Writes(), test.ShouldResemble, []SimWrite{{Instance: 1, Address: 0x19, Bytes: []byte{0x00}}})
}

func TestWriteBlock(t *testing.T) {
	bus, driver := newTestBus(t, map[int][]byte{1: {0x19}})

	test.That(t, bus.Write(context.Background(), 0x19, 0x100), test.ShouldBeNil)
	test.That(t, bus.Write(context.Background(), 0x19, 0x0A0B0C), test.ShouldBeNil)
	test.That(t, driver.Writes(), test.ShouldResemble, []SimWrite{
		{Instance: 1, Address: 0x19, Bytes: []byte{0x01, 0x00}},
		{Instance: 1, Address: 0x19, Bytes: []byte{0x0A, 0x0B, 0x0C}},
	})
}

func TestWriteUnknownAddress(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	driver := NewSimDriver(map[int][]byte{2: {0x19}, 5: {}})
	bus, err := New(context.Background(), driver, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, bus.Write(context.Background(), 0x30, 0x01), test.ShouldBeNil)
	test.That(t, driver.Writes(), test.ShouldResemble, []SimWrite{{Instance: 2, Address: 0x30, Bytes: []byte{0x01}}})
	test.That(t, logs.FilterMessageSnippet("trying to write anyway").Len(), test.ShouldEqual, 1)

	empty, err := New(context.Background(), NewSimDriver(map[int][]byte{1: {}}), logger,
		WithTopology(map[int][]byte{}))
	test.That(t, err, test.ShouldBeNil)
	err = empty.Write(context.Background(), 0x30, 0x01)
	test.That(t, errors.Is(err, ErrUnknownAddress), test.ShouldBeTrue)
}

func TestNewWithoutInstances(t *testing.T) {
	_, err := New(context.Background(), NewSimDriver(map[int][]byte{}), logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrNoInstances), test.ShouldBeTrue)
}

func TestWriteFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus, driver := newTestBus(t, map[int][]byte{1: {0x19}}, WithRegisterer(reg))

	nack := errors.New("nack")
	driver.FailWrites(0x19, nack)
	err := bus.Write(context.Background(), 0x19, 0x40)
	test.That(t, errors.Is(err, ErrBusWrite), test.ShouldBeTrue)
	test.That(t, errors.Is(err, nack), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "nack")
	var writeErr *WriteError
	test.That(t, errors.As(err, &writeErr), test.ShouldBeTrue)
	test.That(t, writeErr.Address, test.ShouldEqual, byte(0x19))
	test.That(t, writeErr.Instance, test.ShouldEqual, 1)
	test.That(t, driver.Writes(), test.ShouldBeEmpty)
	test.That(t, testutil.ToFloat64(bus.writeErrors.WithLabelValues("0x19")), test.ShouldEqual, 1)

	driver.FailWrites(0x19, nil)
	test.That(t, bus.Write(context.Background(), 0x19, 0x0140), test.ShouldBeNil)
	test.That(t, testutil.ToFloat64(bus.bytesWritten.WithLabelValues("0x19")), test.ShouldEqual, 2)
}

func TestRescanAndProbe(t *testing.T) {
	bus, driver := newTestBus(t, map[int][]byte{1: {0x19}})

	driver.SetPresent(1, 0x20, true)
	_, ok := bus.CheckForAddress(0x20)
	test.That(t, ok, test.ShouldBeFalse)

	instance, ok := bus.ProbeAddress(context.Background(), 0x20)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, instance, test.ShouldEqual, 1)
	_, ok = bus.CheckForAddress(0x20)
	test.That(t, ok, test.ShouldBeTrue)

	driver.SetPresent(1, 0x19, false)
	_, ok = bus.ProbeAddress(context.Background(), 0x19)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = bus.CheckForAddress(0x19)
	test.That(t, ok, test.ShouldBeFalse)

	driver.SetPresent(1, 0x19, true)
	test.That(t, bus.Rescan(context.Background()), test.ShouldBeNil)
	addrs, err := bus.ListAddresses(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addrs, test.ShouldResemble, []byte{0x19, 0x20})
}

func TestConcurrentWrites(t *testing.T) {
	bus, driver := newTestBus(t, map[int][]byte{1: {0x17, 0x18}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			test.That(t, bus.Write(context.Background(), 0x17, 0x1234), test.ShouldBeNil)
		}()
		go func() {
			defer wg.Done()
			test.That(t, bus.Write(context.Background(), 0x18, 0x02), test.ShouldBeNil)
		}()
	}
	wg.Wait()

	writes := driver.Writes()
	test.That(t, len(writes), test.ShouldEqual, 40)
	for _, w := range writes {
		if w.Address == 0x17 {
			test.That(t, w.Bytes, test.ShouldResemble, []byte{0x12, 0x34})
		} else {
			test.That(t, w.Bytes, test.ShouldResemble, []byte{0x02})
		}
	}
	test.That(t, bus.Close(), test.ShouldBeNil)
}
