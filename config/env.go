// Package config contains the environment-derived settings shared by the Artie drivers, the
// client, and the gateway.
package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/artie-robot/artie/logging"
)

const (
	// ArtieIDEnvVar names the robot this process belongs to.
	ArtieIDEnvVar = "ARTIE_ID"

	// RunModeEnvVar selects production, development, or one of the test modes.
	RunModeEnvVar = "ARTIE_RUN_MODE"

	// GitTagEnvVar carries the version baked into the container image.
	GitTagEnvVar = "ARTIE_GIT_TAG"

	// MetricsPortEnvVar is the port of the Prometheus endpoint.
	MetricsPortEnvVar = "METRICS_SERVER_PORT"

	// SwdConfigMouthEnvVar and friends name the SWD interface file of each MCU.
	SwdConfigMouthEnvVar        = "SWD_CONFIG_MOUTH"
	SwdConfigEyebrowLeftEnvVar  = "SWD_CONFIG_EYEBROW_LEFT"
	SwdConfigEyebrowRightEnvVar = "SWD_CONFIG_EYEBROW_RIGHT"
	SwdConfigResetEnvVar        = "SWD_CONFIG_RESET"

	// ArtieEnvVarPrefix is the prefix of the Artie-specific environment variables.
	ArtieEnvVarPrefix = "ARTIE_"

	// DefaultGitTag is reported when no version is set.
	DefaultGitTag = "unversioned"

	// DefaultMetricsPort is used when METRICS_SERVER_PORT is unset or malformed.
	DefaultMetricsPort = 8090
)

// Default SWD interface file names, relative to the programmer's interface directory.
var defaultSwdInterfaces = map[string]string{
	SwdConfigMouthEnvVar:        "raspberrypi-mouth-swd.cfg",
	SwdConfigEyebrowLeftEnvVar:  "raspberrypi-eyebrow-left-swd.cfg",
	SwdConfigEyebrowRightEnvVar: "raspberrypi-eyebrow-right-swd.cfg",
	SwdConfigResetEnvVar:        "raspberrypi-reset-swd.cfg",
}

// RunMode is the deployment mode of the process.
type RunMode string

// The known run modes.
const (
	Production  RunMode = "production"
	Development RunMode = "development"
	Sanity      RunMode = "sanity"
	Unit        RunMode = "unit"
	Integration RunMode = "integration"
)

// GetRunMode reads ARTIE_RUN_MODE. Unset or unknown values are production.
func GetRunMode() RunMode {
	mode := RunMode(strings.ToLower(strings.TrimSpace(os.Getenv(RunModeEnvVar))))
	switch mode {
	case Production, Development, Sanity, Unit, Integration:
		return mode
	default:
		return Production
	}
}

// IsTest reports whether the mode replaces hardware and peers with test doubles.
func (m RunMode) IsTest() bool {
	return slices.Contains([]RunMode{Unit, Integration, Sanity}, m)
}

// InTestMode is shorthand for GetRunMode().IsTest().
func InTestMode() bool {
	return GetRunMode().IsTest()
}

// GetArtieID returns the ARTIE_ID environment value, which may be empty.
func GetArtieID() string {
	return strings.TrimSpace(os.Getenv(ArtieIDEnvVar))
}

// GetGitTag returns the version string reported by whoami.
func GetGitTag() string {
	if tag := strings.TrimSpace(os.Getenv(GitTagEnvVar)); tag != "" {
		return tag
	}
	return DefaultGitTag
}

// GetSwdInterface returns the interface file named by envVar, falling back to the default file
// name with a warning.
func GetSwdInterface(envVar string, logger logging.Logger) string {
	if iface := strings.TrimSpace(os.Getenv(envVar)); iface != "" {
		return iface
	}
	def := defaultSwdInterfaces[envVar]
	logger.Warnf("The %s env variable is not set. Will attempt a default location/name: %s", envVar, def)
	return def
}

// GetMetricsPort returns the Prometheus port from the environment.
func GetMetricsPort(logger logging.Logger) int {
	val := os.Getenv(MetricsPortEnvVar)
	if val == "" {
		return DefaultMetricsPort
	}
	port, err := cast.ToIntE(val)
	if err != nil || port <= 0 || port > 65535 {
		logger.Warnf("Failed to parse %s=%q, falling back to default %d", MetricsPortEnvVar, val, DefaultMetricsPort)
		return DefaultMetricsPort
	}
	return port
}

// GetDuration reads a duration such as "2s" or a plain number of seconds from envVar.
func GetDuration(envVar string, defaultDuration time.Duration, logger logging.Logger) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultDuration
	}
	if secs, err := cast.ToFloat64E(val); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := cast.ToDurationE(val)
	if err != nil {
		logger.Warnf("Failed to parse %s env var, falling back to default %v", envVar, defaultDuration)
		return defaultDuration
	}
	return d
}

// LogArtieEnvVariables logs the Artie environment variables in [os.Environ].
func LogArtieEnvVariables(msg string, logger logging.Logger) {
	var env []string
	for _, v := range os.Environ() {
		if strings.HasPrefix(v, ArtieEnvVarPrefix) || strings.HasPrefix(v, "SWD_CONFIG_") {
			env = append(env, v)
		}
	}
	if len(env) != 0 {
		logger.Infow(msg, "environment", env)
	}
}
