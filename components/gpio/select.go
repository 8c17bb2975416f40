package gpio

import (
	"github.com/artie-robot/artie/logging"
	"github.com/artie-robot/artie/platformdetector"
)

// DefaultChip is the GPIO character device of the SBC's main header.
const DefaultChip = "/dev/gpiochip0"

// NewBackendForHost returns the hardware backend on a Linux ARM host and the simulation backend
// everywhere else, or when simulate is set.
func NewBackendForHost(host platformdetector.Host, simulate bool, pin int, logger logging.Logger) (Backend, error) {
	if simulate || !host.IsHardware() {
		logger.Infow("using simulated gpio", "pin", pin, "os", host.OS, "arch", host.Arch)
		return NewSimBackend(logger), nil
	}
	logger.Infow("using hardware gpio", "pin", pin, "chip", DefaultChip, "model", host.Model)
	return NewHardwareBackend(DefaultChip, pin)
}
