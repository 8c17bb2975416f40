// Package platformdetector decides whether the process runs on the controller SBC, where real
// GPIO and I2C devices exist, or somewhere else where the simulation backends are used.
package platformdetector

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Host describes the machine the process runs on.
type Host struct {
	OS    string
	Arch  string
	Model string
}

// IsHardware reports whether the host should drive real pins: Linux on an ARM CPU.
func (h Host) IsHardware() bool {
	return h.OS == "linux" && strings.HasPrefix(h.Arch, "arm")
}

// Detect inspects the running system.
func Detect() Host {
	return detectWithRoot("/")
}

func detectWithRoot(root string) Host {
	return Host{
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		Model: boardModel(root),
	}
}

// boardModel returns the device-tree model string, or the "Model" line of /proc/cpuinfo on older
// kernels. Empty when neither exists.
func boardModel(root string) string {
	//nolint:gosec
	if data, err := os.ReadFile(filepath.Join(root, "sys/firmware/devicetree/base/model")); err == nil {
		return strings.TrimRight(string(data), "\x00\n ")
	}
	return cpuInfo(filepath.Join(root, "proc/cpuinfo"))["Model"]
}

func cpuInfo(path string) map[string]string {
	info := make(map[string]string)
	//nolint:gosec
	file, err := os.Open(path)
	if err != nil {
		return info
	}
	//nolint:errcheck
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name, value, found := strings.Cut(scanner.Text(), ":")
		if found {
			info[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return info
}
