package metrics

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// Stats files refer to time in "clock ticks". Learning the real tick rate needs cgo, and 100hz is
// the configured value on the SBC kernels we ship.
const userHz = 100

var (
	userCPUDesc = prometheus.NewDesc("artie_process_user_cpu_seconds",
		"User CPU time consumed by the driver process.", nil, nil)
	systemCPUDesc = prometheus.NewDesc("artie_process_system_cpu_seconds",
		"System CPU time consumed by the driver process.", nil, nil)
	elapsedDesc = prometheus.NewDesc("artie_process_elapsed_seconds",
		"Seconds since the driver process started.", nil, nil)
	rssDesc = prometheus.NewDesc("artie_process_resident_memory_bytes",
		"Resident memory of the driver process.", nil, nil)
)

// sysCollector exports CPU and memory usage of one process read from procfs.
type sysCollector struct {
	proc         procfs.Proc
	bootTimeSecs float64
	pageSize     int
}

// newSelfSysCollector returns a collector for the current process. It fails on systems without
// procfs.
func newSelfSysCollector() (*sysCollector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	machineStats, err := fs.Stat()
	if err != nil {
		return nil, err
	}
	proc, err := fs.Self()
	if err != nil {
		return nil, err
	}
	return &sysCollector{
		proc:         proc,
		bootTimeSecs: float64(machineStats.BootTime),
		pageSize:     os.Getpagesize(),
	}, nil
}

func (c *sysCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- userCPUDesc
	ch <- systemCPUDesc
	ch <- elapsedDesc
	ch <- rssDesc
}

func (c *sysCollector) Collect(ch chan<- prometheus.Metric) {
	stat, err := c.proc.Stat()
	if err != nil {
		return
	}

	// The time the program started in seconds since the epoch.
	startSecs := c.bootTimeSecs + float64(stat.Starttime)/float64(userHz)
	nowSecs := float64(time.Now().UnixNano()) / float64(time.Second)

	ch <- prometheus.MustNewConstMetric(userCPUDesc, prometheus.CounterValue, float64(stat.UTime)/float64(userHz))
	ch <- prometheus.MustNewConstMetric(systemCPUDesc, prometheus.CounterValue, float64(stat.STime)/float64(userHz))
	ch <- prometheus.MustNewConstMetric(elapsedDesc, prometheus.GaugeValue, nowSecs-startSecs)
	ch <- prometheus.MustNewConstMetric(rssDesc, prometheus.GaugeValue, float64(stat.RSS*c.pageSize))
}
