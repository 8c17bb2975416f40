package config

import (
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/artie-robot/artie/logging"
)

func TestRunMode(t *testing.T) {
	t.Setenv(RunModeEnvVar, "")
	test.That(t, GetRunMode(), test.ShouldEqual, Production)
	test.That(t, InTestMode(), test.ShouldBeFalse)

	for _, mode := range []string{"unit", "Integration", " sanity "} {
		t.Setenv(RunModeEnvVar, mode)
		test.That(t, InTestMode(), test.ShouldBeTrue)
	}

	t.Setenv(RunModeEnvVar, "development")
	test.That(t, GetRunMode(), test.ShouldEqual, Development)
	test.That(t, InTestMode(), test.ShouldBeFalse)

	t.Setenv(RunModeEnvVar, "bogus")
	test.That(t, GetRunMode(), test.ShouldEqual, Production)
}

func TestGitTag(t *testing.T) {
	t.Setenv(GitTagEnvVar, "")
	test.That(t, GetGitTag(), test.ShouldEqual, DefaultGitTag)
	t.Setenv(GitTagEnvVar, "v0.4.1")
	test.That(t, GetGitTag(), test.ShouldEqual, "v0.4.1")
}

func TestSwdInterface(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)

	t.Setenv(SwdConfigMouthEnvVar, "")
	test.That(t, GetSwdInterface(SwdConfigMouthEnvVar, logger), test.ShouldEqual, "raspberrypi-mouth-swd.cfg")
	test.That(t, logs.FilterMessageSnippet(SwdConfigMouthEnvVar).Len(), test.ShouldEqual, 1)

	t.Setenv(SwdConfigEyebrowLeftEnvVar, "custom.cfg")
	test.That(t, GetSwdInterface(SwdConfigEyebrowLeftEnvVar, logger), test.ShouldEqual, "custom.cfg")
	test.That(t, logs.FilterMessageSnippet(SwdConfigEyebrowLeftEnvVar).Len(), test.ShouldEqual, 0)
}

func TestMetricsPort(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Setenv(MetricsPortEnvVar, "")
	test.That(t, GetMetricsPort(logger), test.ShouldEqual, DefaultMetricsPort)
	t.Setenv(MetricsPortEnvVar, "9100")
	test.That(t, GetMetricsPort(logger), test.ShouldEqual, 9100)
	t.Setenv(MetricsPortEnvVar, "not-a-port")
	test.That(t, GetMetricsPort(logger), test.ShouldEqual, DefaultMetricsPort)
	t.Setenv(MetricsPortEnvVar, "70000")
	test.That(t, GetMetricsPort(logger), test.ShouldEqual, DefaultMetricsPort)
}

func TestDuration(t *testing.T) {
	logger := logging.NewTestLogger(t)
	const key = "ARTIE_TEST_DURATION"

	t.Setenv(key, "")
	test.That(t, GetDuration(key, time.Second, logger), test.ShouldEqual, time.Second)
	t.Setenv(key, "1.5")
	test.That(t, GetDuration(key, time.Second, logger), test.ShouldEqual, 1500*time.Millisecond)
	t.Setenv(key, "250ms")
	test.That(t, GetDuration(key, time.Second, logger), test.ShouldEqual, 250*time.Millisecond)
	t.Setenv(key, "later")
	test.That(t, GetDuration(key, time.Second, logger), test.ShouldEqual, time.Second)
}
