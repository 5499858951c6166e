package aggregator

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/compliance"
	"github.com/steveyegge/governor/internal/health"
	"github.com/steveyegge/governor/internal/storage/sqlite"
	"github.com/steveyegge/governor/internal/types"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func closedInstruction(id string, typ types.InstructionType, start time.Time, totalMs int64, tools int) *types.InstructionTiming {
	return &types.InstructionTiming{
		SessionID:          "s1",
		InstructionID:      id,
		Type:               typ,
		StartMs:            start.UnixMilli(),
		EndMs:              start.UnixMilli() + totalMs,
		TotalMs:            totalMs,
		Success:            true,
		Closed:             true,
		ToolCalls:          tools,
		ComplexityScore:    types.ComplexityScore(totalMs, tools),
		Tier:               types.TierFor(totalMs),
		RealExecution:      true,
		Transparency:       true,
		EvidenceDocumented: true,
		RealWorkRatio:      0.5,
	}
}

func TestCompute(t *testing.T) {
	fastRead := closedInstruction("i1", types.InstructionRead, testNow.Add(-5*time.Minute), 2_000, 1)
	slowEdit := closedInstruction("i2", types.InstructionEdit, testNow.Add(-3*time.Hour), 90_000, 12)
	slowEdit.Success = false
	slowEdit.RealExecution = false
	inProgress := &types.InstructionTiming{SessionID: "s2", InstructionID: "i3", Type: types.InstructionCreate, StartMs: testNow.Add(-time.Minute).UnixMilli()}
	stale := &types.InstructionTiming{SessionID: "s3", InstructionID: "i4", Type: types.InstructionGeneral, StartMs: testNow.Add(-2 * time.Hour).UnixMilli()}

	snap := &snapshot{
		instructions: []*types.InstructionTiming{fastRead, slowEdit, inProgress, stale},
		tools: []*types.ToolTiming{
			{SessionID: "s1", InstructionID: "i1", ToolName: "Read", StartMs: fastRead.StartMs, EndMs: fastRead.StartMs + 40, ExecutionMs: 40, Success: true, RealExecution: true, ResultSizeBytes: 100},
			{SessionID: "s1", InstructionID: "i2", ToolName: "Read", StartMs: slowEdit.StartMs, EndMs: slowEdit.StartMs + 60, ExecutionMs: 60, Success: false, RealExecution: true, ResultSizeBytes: 300},
			{SessionID: "s3", InstructionID: "i4", ToolName: "Bash", StartMs: stale.StartMs + 1000, EndMs: stale.StartMs + 6000, ExecutionMs: 5000, Success: true},
			{SessionID: "s2", InstructionID: "i3", ToolName: "Write", StartMs: inProgress.StartMs + 10},
		},
		events: []*types.ThresholdEvent{
			{Kind: types.EventFileSizeViolation, ThresholdViolated: true},
			{Kind: types.EventFileCreated},
		},
		violations: []*types.Violation{{Resolved: true}, {}},
		health:     &types.ComplianceMetric{Value: 0.9, Timestamp: testNow},
	}

	f := compute(testNow, 24*time.Hour, 30*time.Minute, snap)

	assert.Equal(t, 4, f.Overall.Instructions)
	assert.Equal(t, 2, f.Overall.Completed)
	assert.Equal(t, 1, f.Overall.Terminated)
	assert.Equal(t, 1, f.Overall.InProgress)
	assert.InDelta(t, 1.0/3, f.Overall.SuccessRate, 1e-4)
	assert.InDelta(t, 1.0/3, f.Overall.RealExecutionRate, 1e-4)

	require.Contains(t, f.ByType, types.InstructionRead)
	assert.Equal(t, 1, f.ByType[types.InstructionRead].Count)
	assert.Equal(t, 2000.0, f.ByType[types.InstructionRead].AvgMs)
	require.Contains(t, f.ByType, types.InstructionGeneral)
	assert.Equal(t, int64(6000), f.ByType[types.InstructionGeneral].MaxMs, "stale instruction ends at its last tool activity")
	assert.NotContains(t, f.ByType, types.InstructionCreate)

	assert.Equal(t, 2, f.Tiers[types.TierFast]+f.Tiers[types.TierStandard])
	assert.Equal(t, 1, f.Tiers[types.TierComplex])
	assert.Zero(t, f.Tiers[types.TierCritical])

	require.Contains(t, f.Tools, "Read")
	assert.Equal(t, 2, f.Tools["Read"].Count)
	assert.Equal(t, 50.0, f.Tools["Read"].AvgMs)
	assert.Equal(t, int64(40), f.Tools["Read"].MinMs)
	assert.Equal(t, 0.5, f.Tools["Read"].SuccessRate)
	assert.Equal(t, 200.0, f.Tools["Read"].AvgResultBytes)
	assert.NotContains(t, f.Tools, "Write", "open tool calls are not aggregated")
	assert.Equal(t, 3, f.Overall.ToolCalls)

	assert.InDelta(t, 2.0/3, f.Thresholds.Within30s, 1e-4)
	assert.Equal(t, 1.0, f.Thresholds.Within2m)
	assert.InDelta(t, 2.0/3, f.Thresholds.EfficientToolUsage, 1e-4)

	assert.Equal(t, 1, f.Hourly[11].Count)
	assert.Equal(t, 1, f.Hourly[9].Count)
	assert.Equal(t, 1, f.Hourly[10].Count)

	assert.Equal(t, 2, f.Realtime.Instructions)
	assert.Equal(t, 2, f.Realtime.ToolCalls)
	assert.Equal(t, 2000.0, f.Realtime.AvgMs)

	assert.Equal(t, 1, f.Governance.ThresholdEvents[types.EventFileSizeViolation])
	assert.Equal(t, 1, f.Governance.ViolatedEvents)
	assert.Equal(t, 2, f.Governance.RuleViolations)
	assert.Equal(t, 1, f.Governance.UnresolvedRules)
	require.NotNil(t, f.Governance.HealthScore)
	assert.Equal(t, 0.9, *f.Governance.HealthScore)
}

func TestCompute_EmptyWindow(t *testing.T) {
	f := compute(testNow, 24*time.Hour, 30*time.Minute, &snapshot{})
	assert.Zero(t, f.Overall.Instructions)
	assert.Equal(t, 1.0, f.Overall.RealExecutionRate)
	assert.Len(t, f.Hourly, 24)
	assert.Len(t, f.Tiers, 4)
	assert.Nil(t, f.Governance.HealthScore)

	r := f.Measurements()
	assert.Zero(t, r.Instructions)
	assert.Equal(t, 1.0, r.ToolSuccessRate)
}

func TestRunOnce_WritesFeeds(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	it := closedInstruction("i1", types.InstructionRead, testNow.Add(-time.Hour), 1_000, 1)
	require.NoError(t, store.UpsertInstruction(ctx, it))
	_, err = store.AppendToolTiming(ctx, &types.ToolTiming{
		SessionID: "s1", InstructionID: "i1", ToolName: "Read", Index: 1,
		StartMs: it.StartMs, EndMs: it.StartMs + 30, ExecutionMs: 30, Success: true, RealExecution: true, EvidenceDocumented: true,
	})
	require.NoError(t, err)
	_, err = store.AppendMetric(ctx, &types.ComplianceMetric{MetricType: health.HealthMetricType, Value: 0.95, Timestamp: testNow.Add(-time.Minute)})
	require.NoError(t, err)

	dir := t.TempDir()
	a, err := New(Config{
		Store:          store,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:          clockwork.NewFakeClockAt(testNow),
		DashboardFeed:  filepath.Join(dir, "feeds", "dashboard.json"),
		ComplianceFeed: filepath.Join(dir, "feeds", "compliance.json"),
	})
	require.NoError(t, err)

	feed, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.Overall.Completed)

	loaded, err := LoadFeed(a.cfg.DashboardFeed)
	require.NoError(t, err)
	assert.Equal(t, feed.Overall, loaded.Overall)
	require.NotNil(t, loaded.Governance.HealthScore)
	assert.Equal(t, 0.95, *loaded.Governance.HealthScore)

	comp, err := LoadComplianceFeed(a.cfg.ComplianceFeed)
	require.NoError(t, err)
	require.NotNil(t, comp.Report)
	assert.True(t, comp.Report.Compliant)
	assert.Equal(t, 100.0, comp.Report.CombinedScore)
}

func TestRunOnce_StoresComplianceRows(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, store.UpsertInstruction(ctx, closedInstruction("i1", types.InstructionRead, testNow.Add(-time.Hour), 1_000, 1)))

	v, err := compliance.NewValidator(compliance.Config{Store: store, Logger: logger, Clock: clock})
	require.NoError(t, err)
	dir := t.TempDir()
	a, err := New(Config{
		Store:          store,
		Logger:         logger,
		Clock:          clock,
		DashboardFeed:  filepath.Join(dir, "dashboard.json"),
		ComplianceFeed: filepath.Join(dir, "compliance.json"),
		Validator:      v,
	})
	require.NoError(t, err)

	_, err = a.RunOnce(ctx)
	require.NoError(t, err)

	for _, kind := range []string{compliance.MetricP55Overall, compliance.MetricP56Overall, compliance.MetricCombined} {
		row, err := store.LatestMetric(ctx, kind)
		require.NoError(t, err, kind)
		assert.WithinDuration(t, testNow, row.Timestamp, time.Second, kind)
	}
}

func TestConfig_Validate(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	cfg := Config{Store: store, Logger: slog.Default(), DashboardFeed: "d.json", ComplianceFeed: "c.json"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultWindow, cfg.Window)

	cfg.Interval = time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestRun_StopsOnCancel(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	defer store.Close()

	dir := t.TempDir()
	a, err := New(Config{
		Store:          store,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		DashboardFeed:  filepath.Join(dir, "dashboard.json"),
		ComplianceFeed: filepath.Join(dir, "compliance.json"),
		Interval:       time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := LoadFeed(a.cfg.DashboardFeed)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("aggregator did not stop")
	}
}
