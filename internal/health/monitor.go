package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// Monitor is the growth governance monitor.
type Monitor struct {
	cfg      Config
	log      *slog.Logger
	registry *Registry
	queue    chan Change
	debounce *debouncer
	latency  *latencyWindow

	mode      atomic.Value // string
	score     atomic.Uint64
	processed atomic.Int64
	dropped   atomic.Int64
	debounced atomic.Int64
	events    atomic.Int64

	degradedMu sync.Mutex
	degraded   bool
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	registry, err := NewRegistry(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "monitor"),
		registry: registry,
		queue:    make(chan Change, cfg.QueueSize),
		debounce: newDebouncer(cfg.Debounce),
		latency:  newLatencyWindow(latencyWindowSize),
	}
	m.mode.Store("idle")
	m.score.Store(math.Float64bits(1))
	return m, nil
}

// Registry exposes the tracked-file state.
func (m *Monitor) Registry() *Registry {
	return m.registry
}

// Submit debounces a change and enqueues it without blocking. It returns
// false when the change was held for the debounce window or dropped. A held
// change is queued by flushDebounced once its window closes.
func (m *Monitor) Submit(ch Change) bool {
	now := m.cfg.Clock.Now()
	if ch.At.IsZero() {
		ch.At = now
	}
	if m.cfg.Debounce > 0 && !m.debounce.admit(ch, now) {
		m.debounced.Add(1)
		metrics.MonitorEventsDebounced.Inc()
		return false
	}
	return m.enqueue(ch)
}

func (m *Monitor) enqueue(ch Change) bool {
	select {
	case m.queue <- ch:
		metrics.MonitorQueueDepth.Set(float64(len(m.queue)))
		return true
	default:
		n := m.dropped.Add(1)
		metrics.MonitorEventsDropped.Inc()
		m.log.Warn("monitor queue full, dropping change", "path", ch.Path, "kind", ch.Kind, "total_dropped", n)
		return false
	}
}

// flushDebounced queues the changes whose debounce window has closed and
// returns how many were queued. Latency is measured from the release.
func (m *Monitor) flushDebounced() int {
	now := m.cfg.Clock.Now()
	queued := 0
	for _, ch := range m.debounce.due(now) {
		ch.At = now
		if m.enqueue(ch) {
			queued++
		}
	}
	return queued
}

func (m *Monitor) debounceLoop(ctx context.Context) error {
	ticker := m.cfg.Clock.NewTicker(debounceTick(m.cfg.Debounce))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.flushDebounced()
		}
	}
}

// debounceTick bounds how late a held change is released after its window.
func debounceTick(window time.Duration) time.Duration {
	tick := window / 5
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	return tick
}

// Run baselines the tree, then runs the change source, the workers and the
// health collector until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.baseline(ctx); err != nil {
		return err
	}

	var source changeSource
	if !m.cfg.ForcePolling {
		w, err := newFSWatcher(m)
		if err != nil {
			m.log.Warn("event subscription unavailable, falling back to polling", "error", err)
		} else {
			source = w
		}
	}
	if source == nil {
		source = newPoller(m)
	}
	m.mode.Store(source.Mode())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return source.Run(gctx) })
	if m.cfg.Debounce > 0 {
		g.Go(func() error { return m.debounceLoop(gctx) })
	}
	for i := 0; i < m.cfg.Workers; i++ {
		g.Go(func() error { return m.worker(gctx) })
	}
	g.Go(func() error { return m.healthLoop(gctx) })

	m.log.Info("monitor started", "mode", source.Mode(), "workers", m.cfg.Workers, "tracked", m.registry.Tracked())
	err := g.Wait()

	if m.cfg.Remediator != nil {
		m.cfg.Remediator.Stop()
	}
	if serr := m.registry.Save(m.cfg.Clock.Now()); serr != nil {
		m.log.Warn("failed to save monitor state", "error", serr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// baseline tracks every monitored file without reporting, so only later
// changes produce events.
func (m *Monitor) baseline(ctx context.Context) error {
	if _, err := os.Stat(m.cfg.Root); err != nil {
		return fmt.Errorf("monitor root: %w", err)
	}
	m.walkFiles(m.cfg.Root, func(abs, rel string, _ fs.FileInfo) {
		if ctx.Err() != nil {
			return
		}
		snap, err := analyzeFile(abs, rel)
		if err != nil {
			m.log.Debug("skipping unreadable file", "path", rel, "error", err)
			return
		}
		for _, f := range m.registry.observeBaseline(rel, snap, m.cfg.Thresholds) {
			m.record(ctx, m.eventFor(f, ChangeModified, 0))
		}
	})
	m.registry.Prune()
	return ctx.Err()
}

func (m *Monitor) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-m.queue:
			metrics.MonitorQueueDepth.Set(float64(len(m.queue)))
			m.handle(ctx, ch)
		}
	}
}

// handle analyzes one change and records every finding it produced.
func (m *Monitor) handle(ctx context.Context, ch Change) {
	rel, ok := m.relPath(ch.Path)
	if !ok {
		return
	}

	snap, err := analyzeFile(ch.Path, rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.registry.Forget(rel)
		} else {
			m.log.Warn("failed to analyze file", "path", rel, "error", err)
		}
		return
	}

	findings, firstSeen := m.registry.Observe(rel, snap, m.cfg.Thresholds, false)
	responseMs := m.cfg.Clock.Since(ch.At).Milliseconds()

	if firstSeen && ch.Kind == ChangeCreated {
		m.record(ctx, &types.ThresholdEvent{
			Timestamp:      m.cfg.Clock.Now(),
			Kind:           types.EventFileCreated,
			FilePath:       rel,
			ChangeType:     string(ch.Kind),
			Severity:       types.SeverityLow,
			CurrentValue:   float64(snap.Lines),
			ThresholdValue: float64(m.cfg.Thresholds.FileSizeLines),
			ResponseMs:     responseMs,
		})
	}
	for _, f := range findings {
		m.record(ctx, m.eventFor(f, ch.Kind, responseMs))
	}

	elapsed := m.cfg.Clock.Since(ch.At)
	m.latency.Record(elapsed)
	m.processed.Add(1)
	metrics.MonitorHandleSeconds.Observe(elapsed.Seconds())
	if elapsed > m.cfg.SLO {
		m.log.Warn("event handling exceeded response-time SLO", "path", rel, "elapsed", elapsed, "slo", m.cfg.SLO)
	}
}

func (m *Monitor) eventFor(f finding, kind ChangeKind, responseMs int64) *types.ThresholdEvent {
	return &types.ThresholdEvent{
		Timestamp:         m.cfg.Clock.Now(),
		Kind:              f.Kind,
		FilePath:          f.Path,
		ChangeType:        string(kind),
		Severity:          severityFor(f.Kind, f.Current, f.Threshold),
		ThresholdViolated: f.Violated,
		CurrentValue:      f.Current,
		ThresholdValue:    f.Threshold,
		ResponseMs:        responseMs,
	}
}

// record persists an event; violated events also get an alert file and,
// when remediable, a remediator invocation.
func (m *Monitor) record(ctx context.Context, ev *types.ThresholdEvent) {
	err := storage.WriteWithRetry(ctx, m.log, "threshold event", func() error {
		_, err := m.cfg.Store.AppendThresholdEvent(ctx, ev)
		return err
	})
	if err != nil {
		metrics.StoreWriteDrops.WithLabelValues("threshold_event").Inc()
	}
	m.events.Add(1)
	metrics.ThresholdEvents.WithLabelValues(string(ev.Kind), string(ev.Severity)).Inc()

	if !ev.ThresholdViolated {
		return
	}
	m.log.Warn("threshold violated", "kind", ev.Kind, "path", ev.FilePath,
		"current", ev.CurrentValue, "threshold", ev.ThresholdValue, "severity", ev.Severity)

	if m.cfg.AlertsDir != "" {
		if _, err := writeAlert(m.cfg.AlertsDir, ev); err != nil {
			m.log.Warn("failed to write alert", "kind", ev.Kind, "error", err)
		}
	}
	if m.cfg.Remediator != nil {
		m.cfg.Remediator.Trigger(ev.Kind, filepath.Join(m.cfg.Root, filepath.FromSlash(ev.FilePath)))
	}
}

func (m *Monitor) healthLoop(ctx context.Context) error {
	ticker := m.cfg.Clock.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.CollectHealth(ctx)
		}
	}
}

// CollectHealth computes the health score, stores it as a metric row and
// records a performance event when average latency crosses the SLO.
func (m *Monitor) CollectHealth(ctx context.Context) Stats {
	stats := m.Stats()
	m.score.Store(math.Float64bits(stats.HealthScore))
	metrics.HealthScore.Set(stats.HealthScore)

	details, _ := json.Marshal(map[string]any{
		"queue_depth":    stats.QueueDepth,
		"dropped":        stats.Dropped,
		"latency_avg_ms": stats.LatencyAvgMs,
		"latency_max_ms": stats.LatencyMaxMs,
		"tracked_files":  stats.Tracked,
	})
	metric := &types.ComplianceMetric{
		MetricType: HealthMetricType,
		Value:      stats.HealthScore,
		Threshold:  m.cfg.HealthFloor,
		Compliant:  stats.HealthScore >= m.cfg.HealthFloor,
		Details:    string(details),
		Timestamp:  stats.CollectedAt,
	}
	err := storage.WriteWithRetry(ctx, m.log, "health metric", func() error {
		_, err := m.cfg.Store.AppendMetric(ctx, metric)
		return err
	})
	if err != nil {
		metrics.StoreWriteDrops.WithLabelValues("metric").Inc()
	}

	sloMs := float64(m.cfg.SLO.Milliseconds())
	m.degradedMu.Lock()
	over := stats.LatencyAvgMs > sloMs
	transition := over && !m.degraded
	m.degraded = over
	m.degradedMu.Unlock()
	if transition {
		m.record(ctx, &types.ThresholdEvent{
			Timestamp:         stats.CollectedAt,
			Kind:              types.EventPerformanceDegraded,
			FilePath:          ".",
			ChangeType:        "health",
			Severity:          severityFor(types.EventPerformanceDegraded, stats.LatencyAvgMs, sloMs),
			ThresholdViolated: true,
			CurrentValue:      stats.LatencyAvgMs,
			ThresholdValue:    sloMs,
		})
	}

	if err := m.registry.Save(stats.CollectedAt); err != nil {
		m.log.Warn("failed to save monitor state", "error", err)
	}
	return stats
}

// HealthScore returns the last collected score.
func (m *Monitor) HealthScore() float64 {
	return math.Float64frombits(m.score.Load())
}

// Stats returns a live view of the pipeline; HealthScore is computed from
// the current window rather than the last collection.
func (m *Monitor) Stats() Stats {
	avg, max, _ := m.latency.Summary()
	depth := len(m.queue)
	return Stats{
		Mode:          m.mode.Load().(string),
		Tracked:       m.registry.Tracked(),
		QueueDepth:    depth,
		QueueCapacity: cap(m.queue),
		Processed:     m.processed.Load(),
		Dropped:       m.dropped.Load(),
		Debounced:     m.debounced.Load(),
		Events:        m.events.Load(),
		LatencyAvgMs:  float64(avg) / float64(time.Millisecond),
		LatencyMaxMs:  float64(max) / float64(time.Millisecond),
		SLOMs:         float64(m.cfg.SLO) / float64(time.Millisecond),
		HealthScore:   healthScore(avg, m.cfg.SLO, depth, cap(m.queue)),
		CollectedAt:   m.cfg.Clock.Now(),
	}
}

// relPath maps an absolute path to its monitored relative path.
func (m *Monitor) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(m.cfg.Root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if ShouldExcludePath(rel, m.cfg.ExcludePatterns) || !IsMonitored(rel, m.cfg.Patterns) {
		return "", false
	}
	return rel, true
}

// walkDir reports whether a directory should be descended into.
func (m *Monitor) walkDir(abs string) bool {
	rel, err := filepath.Rel(m.cfg.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel != "." && ShouldExcludePath(rel+"/", m.cfg.ExcludePatterns) {
		return false
	}
	return couldContainMonitored(rel, m.cfg.Patterns)
}

// walkFiles calls fn for every monitored regular file under dir.
func (m *Monitor) walkFiles(dir string, fn func(abs, rel string, info fs.FileInfo)) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !m.walkDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, ok := m.relPath(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fn(path, rel, info)
		return nil
	})
}
