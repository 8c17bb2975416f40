// Package boardconfig contains the pin, I2C address, and reset address tables of the controller
// board. A Config is immutable once constructed.
package boardconfig

import (
	"os"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var (
	// ErrSymbolNotFound is returned when a name is not present in the table being queried.
	ErrSymbolNotFound = errors.New("symbol not found in board config")
	// ErrFileNotFound is returned by Load when the named file does not exist.
	ErrFileNotFound = errors.New("board config file not found")
)

// Names of the I2C peripherals.
const (
	EyebrowsLeft  = "EYEBROWS_LEFT"
	EyebrowsRight = "EYEBROWS_RIGHT"
	Mouth         = "MOUTH"
	Reset         = "RESET"
)

// Names of the reset targets.
const (
	ResetEyebrows    = "eyebrows"
	ResetMouth       = "mouth"
	ResetHeadSensors = "head_sensors"
	ResetPumpCtl     = "pump_ctl"
)

// Pin names referenced by the drivers.
const (
	PinResetReset = "RESET_RESET"
	PinLED        = "LED_PIN"
)

// DefaultBroadcast is the reset-bus address that resets every MCU at once.
const DefaultBroadcast = 0xFF

// Config is the set of board constants.
type Config struct {
	pins      map[string]int
	i2c       map[string]byte
	resets    map[string]byte
	broadcast byte
}

// Default returns the constants for controller board v0.2.
func Default() *Config {
	return &Config{
		pins: map[string]int{
			"SWDIO_MOUTH":         22,
			"SWCLK_MOUTH":         23,
			"SWDIO_EYEBROW_LEFT":  24,
			"SWCLK_EYEBROW_LEFT":  25,
			"SWDIO_EYEBROW_RIGHT": 5,
			"SWCLK_EYEBROW_RIGHT": 6,
			"SWDIO_RESET":         4,
			"SWCLK_RESET":         12,
			PinResetReset:         13,
			"SPI_CSCAN":           8,
			"SPI_MISO":            9,
			"SPI_MOSI":            10,
			"SPI_SCLK":            11,
			"CAN_INT":             27,
			"UART_TX":             14,
			"UART_RX":             15,
			"UART_CTS":            16,
			"UART_RTS":            17,
			PinLED:                18,
			"I2C_SDA":             2,
			"I2C_SCL":             3,
		},
		i2c: map[string]byte{
			EyebrowsLeft:  0x17,
			EyebrowsRight: 0x18,
			Mouth:         0x19,
			Reset:         0x20,
		},
		resets: map[string]byte{
			ResetEyebrows:    0x00,
			ResetMouth:       0x01,
			ResetHeadSensors: 0x02,
			ResetPumpCtl:     0x03,
		},
		broadcast: DefaultBroadcast,
	}
}

// overlay is the on-disk shape of a board config file. Every table is optional and only the
// entries present replace the defaults.
type overlay struct {
	Pins           map[string]int  `yaml:"pins"`
	I2CAddresses   map[string]byte `yaml:"i2c_addresses"`
	ResetAddresses map[string]byte `yaml:"reset_addresses"`
	Broadcast      *byte           `yaml:"broadcast"`
}

// Load reads a YAML overlay from path and applies it on top of Default. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrFileNotFound, "%q", path)
		}
		return nil, errors.Wrapf(err, "reading board config %q", path)
	}

	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, errors.Wrapf(err, "parsing board config %q", path)
	}
	cfg.pins = lo.Assign(cfg.pins, o.Pins)
	cfg.i2c = lo.Assign(cfg.i2c, o.I2CAddresses)
	cfg.resets = lo.Assign(cfg.resets, o.ResetAddresses)
	if o.Broadcast != nil {
		cfg.broadcast = *o.Broadcast
	}
	return cfg, nil
}

// Pin returns the BCM pin number for name.
func (c *Config) Pin(name string) (int, error) {
	if p, ok := c.pins[name]; ok {
		return p, nil
	}
	return 0, errors.Wrapf(ErrSymbolNotFound, "pin %q", name)
}

// I2CAddress returns the 7-bit I2C address of the named peripheral.
func (c *Config) I2CAddress(name string) (byte, error) {
	if a, ok := c.i2c[name]; ok {
		return a, nil
	}
	return 0, errors.Wrapf(ErrSymbolNotFound, "i2c address %q", name)
}

// ResetAddress returns the reset-bus address of the named target.
func (c *Config) ResetAddress(name string) (byte, error) {
	if a, ok := c.resets[name]; ok {
		return a, nil
	}
	return 0, errors.Wrapf(ErrSymbolNotFound, "reset address %q", name)
}

// Broadcast returns the reset-bus broadcast address.
func (c *Config) Broadcast() byte {
	return c.broadcast
}

// IsResetAddress reports whether addr is a known reset target or the broadcast address.
func (c *Config) IsResetAddress(addr byte) bool {
	if addr == c.broadcast {
		return true
	}
	return lo.Contains(lo.Values(c.resets), addr)
}

// ResetTargetName returns the name of the reset target at addr, if any.
func (c *Config) ResetTargetName(addr byte) (string, bool) {
	return lo.FindKey(c.resets, addr)
}
