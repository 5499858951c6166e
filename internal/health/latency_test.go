package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyWindow(t *testing.T) {
	w := newLatencyWindow(3)

	avg, max, n := w.Summary()
	assert.Zero(t, avg)
	assert.Zero(t, max)
	assert.Zero(t, n)

	w.Record(10 * time.Millisecond)
	w.Record(30 * time.Millisecond)
	avg, max, n = w.Summary()
	assert.Equal(t, 20*time.Millisecond, avg)
	assert.Equal(t, 30*time.Millisecond, max)
	assert.Equal(t, 2, n)

	// The oldest sample is evicted once the window is full.
	w.Record(20 * time.Millisecond)
	w.Record(40 * time.Millisecond)
	avg, max, n = w.Summary()
	assert.Equal(t, 30*time.Millisecond, avg)
	assert.Equal(t, 40*time.Millisecond, max)
	assert.Equal(t, 3, n)

	w.Record(-time.Second)
	_, _, n = w.Summary()
	assert.Equal(t, 3, n)
}

func TestHealthScore(t *testing.T) {
	slo := 5 * time.Second
	tests := []struct {
		name     string
		avg      time.Duration
		depth    int
		capacity int
		want     float64
	}{
		{"idle", 0, 0, 1000, 1},
		{"half latency", 2500 * time.Millisecond, 0, 1000, 0.75},
		{"half full", 0, 500, 1000, 0.75},
		{"both halves", 2500 * time.Millisecond, 500, 1000, 0.5},
		{"latency over slo clamps", 10 * time.Second, 0, 1000, 0.5},
		{"saturated", 10 * time.Second, 1000, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, healthScore(tt.avg, slo, tt.depth, tt.capacity), 1e-9)
		})
	}
}
