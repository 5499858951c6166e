package health

import (
	"sync"
	"time"
)

// latencyWindowSize is the number of recent handling latencies kept.
const latencyWindowSize = 100

// latencyWindow is a fixed-size ring of recent handling latencies.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencyWindowSize
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

// Record adds one sample, evicting the oldest once the window is full.
func (w *latencyWindow) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

// Summary returns the average and maximum over the window.
func (w *latencyWindow) Summary() (avg, max time.Duration, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n = w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0, 0, 0
	}
	var total time.Duration
	for _, s := range w.samples[:n] {
		total += s
		if s > max {
			max = s
		}
	}
	return total / time.Duration(n), max, n
}

// healthScore combines latency headroom against the SLO with queue
// headroom, each clamped to [0,1].
func healthScore(avg, slo time.Duration, depth, capacity int) float64 {
	latency := 1.0
	if slo > 0 {
		latency = 1 - float64(avg)/float64(slo)
	}
	fill := 0.0
	if capacity > 0 {
		fill = float64(depth) / float64(capacity)
	}
	return (clamp01(latency) + clamp01(1-fill)) / 2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
