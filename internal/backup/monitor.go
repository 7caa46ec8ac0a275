package backup

import (
	"os"
	"sync"
	"time"
)

// defaultMonitorInterval is how often the monitor samples the subprocess and
// its output file.
const defaultMonitorInterval = 15 * time.Second

// ProcessMonitor watches a long-running subprocess from a side goroutine:
// process liveness and output file growth, sampled at a fixed interval. It
// never blocks the main control flow and it emits nothing per tick; callers
// log phase boundaries themselves and read the final stats here. The hard
// timeout lives on the context driving the subprocess, not in the monitor.
type ProcessMonitor struct {
	outputPath string
	interval   time.Duration

	mu         sync.Mutex
	lastSize   int64
	lastGrowth time.Time
	samples    int

	stop chan struct{}
	done chan struct{}
}

// NewProcessMonitor creates a monitor for an output file being produced by a
// subprocess. A zero interval uses the default.
func NewProcessMonitor(outputPath string, interval time.Duration) *ProcessMonitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &ProcessMonitor{
		outputPath: outputPath,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	pm.lastGrowth = time.Now()
	pm.mu.Unlock()

	go func() {
		defer close(pm.done)
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pm.stop:
				return
			case <-ticker.C:
				pm.sample()
			}
		}
	}()
}

// Stop terminates sampling and waits for the goroutine to exit.
func (pm *ProcessMonitor) Stop() {
	select {
	case <-pm.stop:
	default:
		close(pm.stop)
	}
	<-pm.done
}

func (pm *ProcessMonitor) sample() {
	info, err := os.Stat(pm.outputPath)
	if err != nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.samples++
	if info.Size() > pm.lastSize {
		pm.lastSize = info.Size()
		pm.lastGrowth = time.Now()
	}
}

// LastSize returns the most recently observed output size.
func (pm *ProcessMonitor) LastSize() int64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.lastSize
}

// SinceGrowth returns how long the output file has gone without growing.
func (pm *ProcessMonitor) SinceGrowth() time.Duration {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return time.Since(pm.lastGrowth)
}

// Samples returns how many times the monitor has sampled.
func (pm *ProcessMonitor) Samples() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.samples
}
