package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/storage/sqlite"
	"github.com/steveyegge/governor/internal/types"
)

type monitorFixture struct {
	m      *Monitor
	store  *sqlite.SQLiteStorage
	clock  *clockwork.FakeClock
	root   string
	alerts string
}

func newMonitorFixture(t *testing.T, mutate func(*Config)) *monitorFixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0755))

	f := &monitorFixture{
		store:  store,
		clock:  clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		root:   root,
		alerts: filepath.Join(t.TempDir(), "alerts"),
	}
	cfg := Config{
		Store:     store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     f.clock,
		Root:      root,
		AlertsDir: f.alerts,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.m, err = New(cfg)
	require.NoError(t, err)
	return f
}

// writeLines writes n distinct lines so the duplication analyzer stays quiet.
func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "line %d of %s\n", i, filepath.Base(path))
	}
	require.NoError(t, storage.WriteFileAtomic(path, []byte(b.String()), 0644))
}

func (f *monitorFixture) events(t *testing.T, kind types.ThresholdEventKind) []*types.ThresholdEvent {
	t.Helper()
	all, err := f.store.ThresholdEventsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	var out []*types.ThresholdEvent
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (f *monitorFixture) alertFiles(t *testing.T) []Alert {
	t.Helper()
	entries, err := os.ReadDir(f.alerts)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var out []Alert
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(f.alerts, e.Name()))
		require.NoError(t, err)
		var a Alert
		require.NoError(t, json.Unmarshal(data, &a))
		out = append(out, a)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Logger: slog.Default(), Root: t.TempDir()})
	assert.Error(t, err, "store is required")

	f := newMonitorFixture(t, nil)
	_, err = New(Config{Store: f.store, Logger: slog.Default(), Root: f.root, Patterns: []string{"docs/[.md"}})
	assert.Error(t, err)

	assert.Equal(t, DefaultQueueSize, f.m.cfg.QueueSize)
	assert.Equal(t, DefaultWorkers, f.m.cfg.Workers)
	assert.Equal(t, DefaultThresholds(), f.m.cfg.Thresholds)
}

func TestMonitor_FileGrowsPastSizeThreshold(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	guide := filepath.Join(f.root, "docs", "guide.md")

	writeLines(t, guide, 1400)
	require.NoError(t, f.m.baseline(ctx))
	assert.Empty(t, f.events(t, types.EventFileSizeViolation))

	writeLines(t, guide, 1600)
	f.m.handle(ctx, Change{Kind: ChangeModified, Path: guide, At: f.clock.Now()})

	events := f.events(t, types.EventFileSizeViolation)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "docs/guide.md", ev.FilePath)
	assert.Equal(t, 1600.0, ev.CurrentValue)
	assert.Equal(t, 1500.0, ev.ThresholdValue)
	assert.Equal(t, types.SeverityHigh, ev.Severity)
	assert.True(t, ev.ThresholdViolated)
	assert.LessOrEqual(t, ev.ResponseMs, int64(5000))

	var sizeAlerts []Alert
	for _, a := range f.alertFiles(t) {
		if a.Kind == types.EventFileSizeViolation {
			sizeAlerts = append(sizeAlerts, a)
		}
	}
	require.Len(t, sizeAlerts, 1)
	assert.Equal(t, ev.ID, sizeAlerts[0].EventID)
	assert.Contains(t, sizeAlerts[0].Message, "1600 lines")

	// Unchanged content does not re-report.
	f.m.handle(ctx, Change{Kind: ChangeModified, Path: guide, At: f.clock.Now()})
	assert.Len(t, f.events(t, types.EventFileSizeViolation), 1)
}

func TestMonitor_CriticalWhenDoubleTheLimit(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	path := filepath.Join(f.root, "docs", "huge.md")
	writeLines(t, path, 3100)

	f.m.handle(ctx, Change{Kind: ChangeCreated, Path: path, At: f.clock.Now()})

	events := f.events(t, types.EventFileSizeViolation)
	require.Len(t, events, 1)
	assert.Equal(t, types.SeverityCritical, events[0].Severity)
}

func TestMonitor_FileCreatedEvent(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.m.baseline(ctx))

	path := filepath.Join(f.root, "docs", "new.md")
	writeLines(t, path, 12)
	f.m.handle(ctx, Change{Kind: ChangeCreated, Path: path, At: f.clock.Now()})

	created := f.events(t, types.EventFileCreated)
	require.Len(t, created, 1)
	assert.False(t, created[0].ThresholdViolated)
	assert.Equal(t, 12.0, created[0].CurrentValue)
	assert.Empty(t, f.alertFiles(t), "informational events get no alert")
	assert.Equal(t, 1, f.m.Registry().Tracked())
}

func TestMonitor_IgnoresUnmonitoredPaths(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()

	for _, rel := range []string{"internal/big.md", ".governor/alerts/x.md", "docs/draft.md.swp"} {
		path := filepath.Join(f.root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		writeLines(t, path, 2000)
		f.m.handle(ctx, Change{Kind: ChangeCreated, Path: path, At: f.clock.Now()})
	}

	all, err := f.store.ThresholdEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMonitor_DuplicationDetected(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "shared step %d\n", i)
	}
	original := filepath.Join(f.root, "docs", "a.md")
	copyPath := filepath.Join(f.root, "docs", "b.md")
	require.NoError(t, os.WriteFile(original, []byte(b.String()), 0644))
	require.NoError(t, f.m.baseline(ctx))

	require.NoError(t, os.WriteFile(copyPath, []byte(b.String()), 0644))
	f.m.handle(ctx, Change{Kind: ChangeCreated, Path: copyPath, At: f.clock.Now()})

	dup := f.events(t, types.EventDuplicationDetected)
	require.Len(t, dup, 1)
	assert.Equal(t, "docs/b.md", dup[0].FilePath)
	assert.Equal(t, 1.0, dup[0].CurrentValue)
	assert.Equal(t, types.SeverityHigh, dup[0].Severity)
}

func TestMonitor_MissingFileIsForgotten(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	path := filepath.Join(f.root, "docs", "temp.md")
	writeLines(t, path, 3)
	require.NoError(t, f.m.baseline(ctx))
	require.Equal(t, 1, f.m.Registry().Tracked())

	require.NoError(t, os.Remove(path))
	f.m.handle(ctx, Change{Kind: ChangeModified, Path: path, At: f.clock.Now()})
	assert.Zero(t, f.m.Registry().Tracked())
}

func TestSubmit_DebounceAndDrop(t *testing.T) {
	f := newMonitorFixture(t, func(c *Config) { c.QueueSize = 2 })
	a := filepath.Join(f.root, "docs", "a.md")

	assert.True(t, f.m.Submit(Change{Kind: ChangeModified, Path: a}))
	assert.False(t, f.m.Submit(Change{Kind: ChangeModified, Path: a}), "same kind and path within the window")
	assert.True(t, f.m.Submit(Change{Kind: ChangeCreated, Path: a}), "different kind is a different key")
	assert.False(t, f.m.Submit(Change{Kind: ChangeModified, Path: filepath.Join(f.root, "docs", "b.md")}), "queue full")

	stats := f.m.Stats()
	assert.Equal(t, int64(1), stats.Debounced)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 2, stats.QueueDepth)
	assert.Equal(t, 2, stats.QueueCapacity)

	// The held change for a.md is released once its window closes.
	f.drain(context.Background())
	assert.Zero(t, f.m.flushDebounced(), "window still open")
	f.clock.Advance(DefaultDebounce)
	assert.Equal(t, 1, f.m.flushDebounced())
	ch := <-f.m.queue
	assert.Equal(t, a, ch.Path)
	assert.Equal(t, ChangeModified, ch.Kind)
	assert.Equal(t, f.clock.Now(), ch.At)
	assert.Zero(t, f.m.flushDebounced(), "nothing left to release")
}

// drain handles every queued change inline, as a worker would.
func (f *monitorFixture) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case ch := <-f.m.queue:
			f.m.handle(ctx, ch)
			n++
		default:
			return n
		}
	}
}

func TestPoller_GrowthWithinDebounceWindowIsAnalyzed(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	guide := filepath.Join(f.root, "docs", "guide.md")

	writeLines(t, guide, 1400)
	require.NoError(t, f.m.baseline(ctx))
	p := newPoller(f.m)

	writeLines(t, guide, 1450)
	p.scan(true)
	assert.Equal(t, 1, f.drain(ctx))

	f.clock.Advance(1100 * time.Millisecond)
	writeLines(t, guide, 1600)
	p.scan(true)
	assert.Zero(t, f.drain(ctx), "second growth is held for the window")
	assert.Empty(t, f.events(t, types.EventFileSizeViolation))

	// The poller has already recorded the new stamp, so only the release
	// can surface the violation.
	p.scan(true)
	f.clock.Advance(DefaultDebounce)
	require.Equal(t, 1, f.m.flushDebounced())
	assert.Equal(t, 1, f.drain(ctx))

	events := f.events(t, types.EventFileSizeViolation)
	require.Len(t, events, 1)
	assert.Equal(t, 1600.0, events[0].CurrentValue)
}

func TestDebouncer_CoalescesToNewest(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newDebouncer(5 * time.Second)
	first := Change{Kind: ChangeModified, Path: "/r/docs/a.md", At: start}

	assert.True(t, d.admit(first, start))
	for i := 1; i <= 3; i++ {
		ch := first
		ch.At = start.Add(time.Duration(i) * time.Second)
		assert.False(t, d.admit(ch, ch.At))
	}
	assert.Equal(t, 1, d.held())
	assert.Empty(t, d.due(start.Add(4*time.Second)))

	out := d.due(start.Add(5 * time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, start.Add(3*time.Second), out[0].At)

	// The release reopened the window, so a change right after is held.
	assert.False(t, d.admit(first, start.Add(6*time.Second)))
	// A quiet window closes without output and frees the key.
	d = newDebouncer(5 * time.Second)
	assert.True(t, d.admit(first, start))
	assert.Empty(t, d.due(start.Add(10*time.Second)))
	assert.True(t, d.admit(first, start.Add(10*time.Second)))
}

func TestCollectHealth_StoresScore(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	path := filepath.Join(f.root, "docs", "a.md")
	writeLines(t, path, 5)
	f.m.handle(ctx, Change{Kind: ChangeCreated, Path: path, At: f.clock.Now()})

	stats := f.m.CollectHealth(ctx)
	assert.Equal(t, 1.0, stats.HealthScore)
	assert.Equal(t, 1.0, f.m.HealthScore())

	metric, err := f.store.LatestMetric(ctx, HealthMetricType)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metric.Value)
	assert.True(t, metric.Compliant)
	assert.Contains(t, metric.Details, "tracked_files")
}

func TestCollectHealth_PerformanceDegraded(t *testing.T) {
	f := newMonitorFixture(t, nil)
	ctx := context.Background()
	path := filepath.Join(f.root, "docs", "slow.md")
	writeLines(t, path, 5)

	at := f.clock.Now()
	f.clock.Advance(10 * time.Second)
	f.m.handle(ctx, Change{Kind: ChangeCreated, Path: path, At: at})

	stats := f.m.CollectHealth(ctx)
	assert.Equal(t, 10000.0, stats.LatencyAvgMs)
	assert.InDelta(t, 0.5, stats.HealthScore, 1e-9)

	degraded := f.events(t, types.EventPerformanceDegraded)
	require.Len(t, degraded, 1)
	assert.Equal(t, 5000.0, degraded[0].ThresholdValue)

	// Still degraded on the next collection, no new event.
	f.m.CollectHealth(ctx)
	assert.Len(t, f.events(t, types.EventPerformanceDegraded), 1)

	metric, err := f.store.LatestMetric(ctx, HealthMetricType)
	require.NoError(t, err)
	assert.False(t, metric.Compliant)
}

func runMonitor(t *testing.T, f *monitorFixture) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("monitor did not stop")
		}
	}
}

func TestRun_PollingDetectsGrowth(t *testing.T) {
	f := newMonitorFixture(t, func(c *Config) {
		c.Clock = clockwork.NewRealClock()
		c.ForcePolling = true
		c.PollInterval = 20 * time.Millisecond
		c.StatePath = filepath.Join(t.TempDir(), "monitor_state.json")
	})
	guide := filepath.Join(f.root, "docs", "guide.md")
	writeLines(t, guide, 1400)

	stop := runMonitor(t, f)
	require.Eventually(t, func() bool { return f.m.Stats().Mode == "polling" }, 5*time.Second, 10*time.Millisecond)

	writeLines(t, guide, 1600)
	require.Eventually(t, func() bool {
		return len(f.events(t, types.EventFileSizeViolation)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	stop()
	_, err := os.Stat(f.m.cfg.StatePath)
	assert.NoError(t, err, "state is saved on shutdown")
}

func TestRun_WatcherDetectsGrowth(t *testing.T) {
	f := newMonitorFixture(t, func(c *Config) { c.Clock = clockwork.NewRealClock() })
	guide := filepath.Join(f.root, "docs", "guide.md")
	writeLines(t, guide, 1400)

	stop := runMonitor(t, f)
	defer stop()
	require.Eventually(t, func() bool { return f.m.Stats().Mode != "idle" }, 5*time.Second, 10*time.Millisecond)
	if f.m.Stats().Mode != "fsnotify" {
		t.Skip("event subscription unavailable on this system")
	}

	writeLines(t, guide, 1600)
	require.Eventually(t, func() bool {
		return len(f.events(t, types.EventFileSizeViolation)) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
