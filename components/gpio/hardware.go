//go:build linux

package gpio

import (
	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// NewHardwareBackend requests offset on the GPIO character device at devicePath (e.g.
// /dev/gpiochip0) as an output that starts low. PWM is generated in software.
func NewHardwareBackend(devicePath string, offset int) (Backend, error) {
	chip, err := gpio.OpenChip(devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", devicePath)
	}
	defer goutils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLine(uint32(offset), 0, gpio.Output, "artie-gpio")
	if err != nil {
		return nil, errors.Wrapf(err, "requesting line %d on %s", offset, devicePath)
	}
	return newSoftPWM(line), nil
}
