// Package aggregator rolls timing and governance rows up into the dashboard
// and compliance feeds on a fixed schedule.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/steveyegge/governor/internal/compliance"
	"github.com/steveyegge/governor/internal/health"
	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultWindow      = 24 * time.Hour
	DefaultGracePeriod = 30 * time.Minute
)

type Config struct {
	Store  storage.Storage
	Logger *slog.Logger
	Clock  clockwork.Clock

	DashboardFeed  string
	ComplianceFeed string

	Interval    time.Duration
	Window      time.Duration
	GracePeriod time.Duration
	Thresholds  compliance.Thresholds

	// Validator, when set, persists the per-check and summary compliance
	// rows every cycle.
	Validator *compliance.Validator
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DashboardFeed == "" {
		return errors.New("dashboard feed path is required")
	}
	if c.ComplianceFeed == "" {
		return errors.New("compliance feed path is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %v", c.Interval)
	}
	if c.Window < time.Hour {
		return fmt.Errorf("window must be at least 1h, got %v", c.Window)
	}
	if c.Thresholds == (compliance.Thresholds{}) {
		c.Thresholds = compliance.DefaultThresholds()
	}
	return c.Thresholds.Validate()
}

type Aggregator struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Aggregator{cfg: cfg, log: cfg.Logger.With("component", "aggregator")}, nil
}

// Compute reads the window and builds both feeds without writing them.
func (a *Aggregator) Compute(ctx context.Context) (*Feed, *ComplianceFeed, error) {
	now := a.cfg.Clock.Now()
	since := now.Add(-a.cfg.Window)

	// Queries run one after another; the store may hold a single connection.
	snap := &snapshot{}
	var err error
	if snap.instructions, err = a.cfg.Store.InstructionsSince(ctx, since.UnixMilli()); err != nil {
		return nil, nil, fmt.Errorf("reading instructions: %w", err)
	}
	if snap.tools, err = a.cfg.Store.ToolTimingsSince(ctx, since.UnixMilli()); err != nil {
		return nil, nil, fmt.Errorf("reading tool timings: %w", err)
	}
	if snap.events, err = a.cfg.Store.ThresholdEventsSince(ctx, since); err != nil {
		return nil, nil, fmt.Errorf("reading threshold events: %w", err)
	}
	if snap.violations, err = a.cfg.Store.RecentViolations(ctx, since, 0); err != nil {
		return nil, nil, fmt.Errorf("reading violations: %w", err)
	}
	snap.health, err = a.cfg.Store.LatestMetric(ctx, health.HealthMetricType)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("reading health score: %w", err)
	}

	feed := compute(now, a.cfg.Window, a.cfg.GracePeriod, snap)
	comp := &ComplianceFeed{
		GeneratedAt: feed.GeneratedAt,
		WindowHours: feed.WindowHours,
		Report:      compliance.Evaluate(feed.Measurements(), a.cfg.Thresholds),
	}
	return feed, comp, nil
}

// RunOnce computes and atomically writes both feeds, then records the
// compliance rows when a validator is configured. The cycle is bounded by the
// interval.
func (a *Aggregator) RunOnce(ctx context.Context) (*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Interval)
	defer cancel()
	start := time.Now()
	defer func() { metrics.AggregationSeconds.Observe(time.Since(start).Seconds()) }()

	feed, comp, err := a.Compute(ctx)
	if err == nil {
		err = storage.WriteJSONAtomic(a.cfg.DashboardFeed, feed)
	}
	if err == nil {
		err = storage.WriteJSONAtomic(a.cfg.ComplianceFeed, comp)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		metrics.AggregationCycles.WithLabelValues("overrun").Inc()
		a.log.Warn("aggregation cycle overran its interval; skipped", "interval", a.cfg.Interval)
		return nil, err
	case err != nil:
		metrics.AggregationCycles.WithLabelValues("failed").Inc()
		a.log.Error("aggregation cycle failed", "error", err)
		return nil, err
	}
	if a.cfg.Validator != nil {
		a.cfg.Validator.Run(ctx, feed.Measurements())
	}
	metrics.AggregationCycles.WithLabelValues("ok").Inc()
	a.log.Debug("aggregation cycle complete",
		"instructions", feed.Overall.Instructions, "tool_calls", feed.Overall.ToolCalls,
		"compliant", comp.Report.Compliant)
	return feed, nil
}

// Run executes a cycle immediately and then on every interval until ctx is
// cancelled. A cycle still running when the next is due is skipped.
func (a *Aggregator) Run(ctx context.Context) error {
	if _, err := a.RunOnce(ctx); err != nil && ctx.Err() != nil {
		return nil
	}

	logger := cronLogger{a.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", a.cfg.Interval), func() {
		_, _ = a.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("scheduling aggregation: %w", err)
	}
	c.Start()
	a.log.Info("aggregator started", "interval", a.cfg.Interval, "window", a.cfg.Window)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// LoadFeed reads a dashboard feed written by RunOnce.
func LoadFeed(path string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, nil
}

// LoadComplianceFeed reads a compliance feed written by RunOnce.
func LoadComplianceFeed(path string) (*ComplianceFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f ComplianceFeed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, nil
}

// cronLogger routes scheduler messages to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		metrics.AggregationCycles.WithLabelValues("skipped").Inc()
		l.log.Warn("aggregation cycle still running; skipping this tick", keysAndValues...)
		return
	}
	l.log.Debug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("scheduler: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
