package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/runvisor/internal/memory"
)

// MemoryCollector exposes the runtime's resident memory by category.
// It classifies on every scrape; nothing is emitted while no pid is known
// or the platform has no mapping table.
type MemoryCollector struct {
	pid      func() int
	classify func(int) (map[memory.Category]uint64, bool)
	desc     *prometheus.Desc
}

func NewMemoryCollector(pid func() int) *MemoryCollector {
	return &MemoryCollector{
		pid:      pid,
		classify: memory.Classify,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "runtime", "memory_resident_bytes"),
			"Resident memory of the runtime process by category.",
			[]string{"category"}, nil,
		),
	}
}

func (c *MemoryCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *MemoryCollector) Collect(ch chan<- prometheus.Metric) {
	pid := c.pid()
	if pid <= 0 {
		return
	}
	totals, ok := c.classify(pid)
	if !ok {
		return
	}
	for _, cat := range memory.Categories {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(totals[cat]*1024), string(cat))
	}
}
