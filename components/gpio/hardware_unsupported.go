//go:build !linux

package gpio

import "github.com/pkg/errors"

// NewHardwareBackend is only available on Linux.
func NewHardwareBackend(devicePath string, offset int) (Backend, error) {
	return nil, errors.New("gpio hardware backend requires linux")
}
