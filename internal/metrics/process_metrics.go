package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/runvisor/internal/logger"
)

// ProcessMetrics holds CPU and memory metrics for the runtime process
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	MemorySwap uint64    `json:"memory_swap,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
}

// ProcessMetricsConfig holds configuration for process metrics collection
type ProcessMetricsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ProcessCollector samples the runtime process with gopsutil and keeps a
// bounded history of samples.
type ProcessCollector struct {
	enabled  bool
	interval time.Duration
	log      *slog.Logger

	mu       sync.RWMutex
	samples  []ProcessMetrics
	startIdx int
	count    int
	lastPID  int32
	proc     *process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func processGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      name,
			Help:      help,
		}, []string{"pid"},
	)
}

// NewProcessCollector creates a collector; log may be nil.
func NewProcessCollector(config ProcessMetricsConfig, log *slog.Logger) *ProcessCollector {
	maxHistory := config.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ProcessCollector{
		enabled:    config.Enabled,
		interval:   interval,
		log:        logger.OrDiscard(log),
		samples:    make([]ProcessMetrics, maxHistory),
		stopCh:     make(chan struct{}),
		cpuPercent: processGauge("cpu_percent", "CPU usage percentage of the runtime process."),
		memoryRSS:  processGauge("memory_rss_bytes", "Resident set size of the runtime process."),
		numThreads: processGauge("num_threads", "Number of threads of the runtime process."),
		numFDs:     processGauge("num_fds", "Number of open file descriptors of the runtime process (Unix only)."),
	}
}

// RegisterMetrics registers the process gauges with the provided registerer
func (c *ProcessCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryRSS, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling of the pid returned by getPID.
func (c *ProcessCollector) Start(ctx context.Context, getPID func() int) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(int32(getPID()), time.Now())
			}
		}
	}()
}

// Stop stops the sampling loop
func (c *ProcessCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *ProcessCollector) collect(pid int32, ts time.Time) {
	c.mu.Lock()
	prev := c.lastPID
	if pid != prev {
		c.proc = nil
		c.lastPID = pid
	}
	c.mu.Unlock()
	if prev > 0 && pid != prev {
		c.forget(prev)
	}
	if pid <= 0 {
		return
	}

	m, err := c.sample(pid, ts)
	if err != nil {
		c.log.Debug("process sample failed", "pid", pid, "error", err)
		c.forget(pid)
		return
	}

	label := fmt.Sprint(pid)
	c.cpuPercent.WithLabelValues(label).Set(m.CPUPercent)
	c.memoryRSS.WithLabelValues(label).Set(float64(m.MemoryRSS))
	c.numThreads.WithLabelValues(label).Set(float64(m.NumThreads))
	if runtime.GOOS != "windows" && m.NumFDs > 0 {
		c.numFDs.WithLabelValues(label).Set(float64(m.NumFDs))
	}
	c.add(*m)
}

func (c *ProcessCollector) forget(pid int32) {
	label := fmt.Sprint(pid)
	c.cpuPercent.DeleteLabelValues(label)
	c.memoryRSS.DeleteLabelValues(label)
	c.numThreads.DeleteLabelValues(label)
	c.numFDs.DeleteLabelValues(label)
}

// sample reuses the process handle so CPUPercent measures the interval
// since the previous sample.
func (c *ProcessCollector) sample(pid int32, ts time.Time) (*ProcessMetrics, error) {
	c.mu.Lock()
	proc := c.proc
	if proc == nil {
		p, err := process.NewProcess(pid)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to create process handle: %w", err)
		}
		proc, c.proc = p, p
	}
	c.mu.Unlock()

	cpuPercent, err := proc.Percent(0)
	if err != nil {
		c.log.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		c.log.Debug("Failed to get thread count", "pid", pid, "error", err)
		numThreads = 0
	}

	m := &ProcessMetrics{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		MemorySwap: memInfo.Swap,
		Timestamp:  ts,
		NumThreads: numThreads,
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			m.NumFDs = numFDs
		}
	}
	return m, nil
}

// add stores a sample in the circular buffer.
func (c *ProcessCollector) add(m ProcessMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := len(c.samples)
	if c.count < size {
		c.samples[(c.startIdx+c.count)%size] = m
		c.count++
		return
	}
	c.samples[c.startIdx] = m
	c.startIdx = (c.startIdx + 1) % size
}

// Latest returns the most recent sample.
func (c *ProcessCollector) Latest() (ProcessMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.count == 0 {
		return ProcessMetrics{}, false
	}
	return c.samples[(c.startIdx+c.count-1)%len(c.samples)], true
}

// History returns the samples oldest first.
func (c *ProcessCollector) History() []ProcessMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ProcessMetrics, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.samples[(c.startIdx+i)%len(c.samples)]
	}
	return out
}

func (c *ProcessCollector) IsEnabled() bool { return c.enabled }
