package boardconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	pin, err := cfg.Pin(PinResetReset)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin, test.ShouldEqual, 13)

	addr, err := cfg.I2CAddress(Mouth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, 0x19)

	addr, err = cfg.ResetAddress(ResetPumpCtl)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, 0x03)

	test.That(t, cfg.Broadcast(), test.ShouldEqual, 0xFF)

	_, err = cfg.Pin("NOPE")
	test.That(t, errors.Is(err, ErrSymbolNotFound), test.ShouldBeTrue)
	_, err = cfg.I2CAddress("NOPE")
	test.That(t, errors.Is(err, ErrSymbolNotFound), test.ShouldBeTrue)
	_, err = cfg.ResetAddress("NOPE")
	test.That(t, errors.Is(err, ErrSymbolNotFound), test.ShouldBeTrue)
}

func TestResetAddressLookup(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.IsResetAddress(0x01), test.ShouldBeTrue)
	test.That(t, cfg.IsResetAddress(0xFF), test.ShouldBeTrue)
	test.That(t, cfg.IsResetAddress(0x42), test.ShouldBeFalse)

	name, ok := cfg.ResetTargetName(0x02)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, name, test.ShouldEqual, ResetHeadSensors)
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, Default())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, errors.Is(err, ErrFileNotFound), test.ShouldBeTrue)

	path := filepath.Join(t.TempDir(), "board.yaml")
	contents := `
pins:
  LED_PIN: 21
i2c_addresses:
  MOUTH: 0x2a
broadcast: 0xFE
`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	cfg, err = Load(path)
	test.That(t, err, test.ShouldBeNil)

	pin, err := cfg.Pin(PinLED)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin, test.ShouldEqual, 21)
	pin, err = cfg.Pin(PinResetReset)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin, test.ShouldEqual, 13)

	addr, err := cfg.I2CAddress(Mouth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, 0x2a)
	test.That(t, cfg.Broadcast(), test.ShouldEqual, 0xFE)

	test.That(t, os.WriteFile(path, []byte("pins: [oops"), 0o600), test.ShouldBeNil)
	_, err = Load(path)
	test.That(t, err, test.ShouldNotBeNil)
}
