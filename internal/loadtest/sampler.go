package loadtest

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSample is the aggregate of one monitoring window.
type ResourceSample struct {
	PeakMemoryMB  float64
	AvgMemoryMB   float64
	PeakCPUPct    float64
	AvgCPUPct     float64
	MemorySamples []float64
	CPUSamples    []float64
}

// ResourceMonitor samples the engine process's RSS and CPU at a fixed
// interval. Start launches the sampling goroutine; Stop joins it before
// reading, so the returned sample is complete and race free.
type ResourceMonitor struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	memory []float64
	cpu    []float64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResourceMonitor samples once per second by default.
func NewResourceMonitor(logger *slog.Logger) *ResourceMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceMonitor{logger: logger, interval: time.Second}
}

// Start begins sampling until Stop or context cancellation.
func (m *ResourceMonitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.memory = nil
	m.cpu = nil
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(runCtx)
}

func (m *ResourceMonitor) loop(ctx context.Context) {
	defer close(m.done)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.logger.Warn("resource monitor unavailable", slog.Any("error", err))
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.sample(proc)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *ResourceMonitor) sample(proc *process.Process) {
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return
	}
	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return
	}

	m.mu.Lock()
	m.memory = append(m.memory, float64(memInfo.RSS)/1024/1024)
	m.cpu = append(m.cpu, cpuPct)
	m.mu.Unlock()
}

// Stop halts sampling and returns the aggregated window.
func (m *ResourceMonitor) Stop() ResourceSample {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sample := ResourceSample{
		MemorySamples: append([]float64(nil), m.memory...),
		CPUSamples:    append([]float64(nil), m.cpu...),
	}
	if len(sample.MemorySamples) == 0 {
		return sample
	}

	for _, v := range sample.MemorySamples {
		sample.AvgMemoryMB += v
		if v > sample.PeakMemoryMB {
			sample.PeakMemoryMB = v
		}
	}
	sample.AvgMemoryMB /= float64(len(sample.MemorySamples))

	for _, v := range sample.CPUSamples {
		sample.AvgCPUPct += v
		if v > sample.PeakCPUPct {
			sample.PeakCPUPct = v
		}
	}
	if len(sample.CPUSamples) > 0 {
		sample.AvgCPUPct /= float64(len(sample.CPUSamples))
	}
	return sample
}
