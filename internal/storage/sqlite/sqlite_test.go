package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRule(id string, kind types.RuleKind, sev types.Severity) *types.Rule {
	return &types.Rule{
		ID:          id,
		Kind:        kind,
		Severity:    sev,
		Description: "test rule " + id,
		Triggers:    []string{"error_detected"},
		Actions:     []string{"log_violation"},
		Active:      true,
	}
}

func TestNew_InMemory(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.UpsertRule(ctx, testRule("R1", types.KindMust, types.SeverityLow)))
	rules, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestRules_UpsertPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := testRule("RULE_001_MUST", types.KindMust, types.SeverityMedium)
	r.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertRule(ctx, r))

	r2 := testRule("RULE_001_MUST", types.KindMust, types.SeverityHigh)
	r2.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r2.PrincipleRef = "#7"
	require.NoError(t, store.UpsertRule(ctx, r2))

	got, err := store.GetRule(ctx, "RULE_001_MUST")
	require.NoError(t, err)
	assert.Equal(t, types.SeverityHigh, got.Severity)
	assert.Equal(t, "#7", got.PrincipleRef)
	assert.True(t, got.CreatedAt.Equal(r.CreatedAt))
	assert.Equal(t, []string{"error_detected"}, got.Triggers)
	assert.Equal(t, []string{"log_violation"}, got.Actions)

	_, err = store.GetRule(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRules_RejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	err := store.UpsertRule(context.Background(), testRule("R", "SHOULD", types.SeverityLow))
	assert.Error(t, err)
}

func TestRules_DeactivateExcept(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"RULE_001_MUST", "RULE_002_WILL", "RULE_003_MUST", "ORCH_001_UTILIZATION"} {
		require.NoError(t, store.UpsertRule(ctx, testRule(id, types.KindMust, types.SeverityLow)))
	}

	n, err := store.DeactivateRulesExcept(ctx, "RULE_", []string{"RULE_002_WILL"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	var ids []string
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"ORCH_001_UTILIZATION", "RULE_002_WILL"}, ids)

	all, err := store.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestViolations_AppendResolveAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRule(ctx, testRule("CRIT", types.KindCritical, types.SeverityCritical)))
	require.NoError(t, store.UpsertRule(ctx, testRule("LOW", types.KindWill, types.SeverityLow)))

	long := make([]byte, 800)
	for i := range long {
		long[i] = 'x'
	}
	v := &types.Violation{RuleID: "CRIT", Kind: types.KindCritical, Context: string(long), Operation: "op"}
	id, err := store.AppendViolation(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)
	assert.Len(t, v.Context, types.MaxSnippetLength)

	for i := 0; i < 2; i++ {
		_, err := store.AppendViolation(ctx, &types.Violation{RuleID: "LOW", Kind: types.KindWill})
		require.NoError(t, err)
	}

	// Foreign key on rule id.
	_, err = store.AppendViolation(ctx, &types.Violation{RuleID: "NOPE", Kind: types.KindWill})
	assert.Error(t, err)

	require.NoError(t, store.ResolveViolation(ctx, id))
	assert.True(t, errors.Is(store.ResolveViolation(ctx, 9999), ErrNotFound))

	stats, err := store.RuleStats(ctx, time.Now().Add(-time.Hour), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRules)
	assert.Equal(t, 2, stats.ActiveRules)
	assert.Equal(t, 3, stats.TotalViolations)
	assert.Equal(t, 2, stats.UnresolvedViolations)
	assert.Equal(t, 1, stats.ViolationsBySeverity[types.SeverityCritical])
	assert.Equal(t, 2, stats.ViolationsBySeverity[types.SeverityLow])
	require.Len(t, stats.TopRules, 2)
	assert.Equal(t, "LOW", stats.TopRules[0].RuleID)
	assert.Equal(t, 2, stats.TopRules[0].Count)

	recent, err := store.RecentViolations(ctx, time.Now().Add(-time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestThresholdEventsAndAlerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-10 * time.Minute).UTC()

	_, err := store.AppendThresholdEvent(ctx, &types.ThresholdEvent{
		Timestamp: base, Kind: types.EventFileSizeViolation, FilePath: "docs/a.md",
		ChangeType: "modified", Severity: types.SeverityHigh, ThresholdViolated: true,
		CurrentValue: 1600, ThresholdValue: 1500, ResponseMs: 12,
	})
	require.NoError(t, err)
	_, err = store.AppendThresholdEvent(ctx, &types.ThresholdEvent{
		Timestamp: base.Add(time.Minute), Kind: types.EventFileCreated, FilePath: "docs/b.md",
		ChangeType: "created", Severity: types.SeverityLow,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpsertRule(ctx, testRule("R", types.KindMust, types.SeverityMedium)))
	_, err = store.AppendViolation(ctx, &types.Violation{RuleID: "R", Kind: types.KindMust, CreatedAt: base.Add(2 * time.Minute)})
	require.NoError(t, err)

	events, err := store.ThresholdEventsSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1600.0, events[0].CurrentValue)

	alerts, err := store.AlertsSince(ctx, base.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, string(types.EventFileSizeViolation), alerts[0].Type)
	assert.Equal(t, int64(12), alerts[0].ResponseMs)
	assert.Equal(t, "rule:MUST", alerts[1].Type)
	assert.Equal(t, types.SeverityMedium, alerts[1].Severity)
}

func TestTimings_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	it := &types.InstructionTiming{SessionID: "s1", InstructionID: "i1", Type: types.InstructionRead, StartMs: 1000, Tier: types.TierFast}
	require.NoError(t, store.UpsertInstruction(ctx, it))

	open, err := store.OpenInstructions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, open, 1)

	tt := &types.ToolTiming{SessionID: "s1", InstructionID: "i1", ToolName: "Read", Index: 1, StartMs: 1100}
	_, err = store.AppendToolTiming(ctx, tt)
	require.NoError(t, err)

	got, err := store.LatestOpenToolTiming(ctx, "s1", "i1", "Read")
	require.NoError(t, err)
	assert.Equal(t, tt.ID, got.ID)
	assert.True(t, got.IsOpen())

	got.EndMs = 1180
	got.ExecutionMs = 80
	got.Success = true
	require.NoError(t, store.UpdateToolTiming(ctx, got))

	_, err = store.LatestOpenToolTiming(ctx, "s1", "i1", "Read")
	assert.True(t, errors.Is(err, ErrNotFound))

	// end before start violates the table check.
	bad := &types.ToolTiming{SessionID: "s1", InstructionID: "i1", ToolName: "Bash", Index: 2, StartMs: 2000, EndMs: 1500}
	_, err = store.AppendToolTiming(ctx, bad)
	assert.Error(t, err)

	// Tool rows need their instruction.
	_, err = store.AppendToolTiming(ctx, &types.ToolTiming{SessionID: "s1", InstructionID: "missing", ToolName: "Read", StartMs: 1})
	assert.Error(t, err)

	it.EndMs, it.TotalMs, it.Closed, it.Success = 1500, 500, true, true
	it.ToolCalls, it.ToolTimeMs = 1, 80
	require.NoError(t, store.UpsertInstruction(ctx, it))

	back, err := store.GetInstruction(ctx, "s1", "i1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), back.ToolTimeMs)
	assert.True(t, back.Closed)

	open, err = store.OpenInstructions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)

	tools, err := store.ToolTimingsSince(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	all, err := store.InstructionsSince(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMetricsAndPredictions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, v := range []float64{0.9, 0.95, 0.97} {
		_, err := store.AppendMetric(ctx, &types.ComplianceMetric{
			MetricType: "p55_real_execution_rate", Value: v, Threshold: 0.95,
			Compliant: v >= 0.95, Timestamp: now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := store.AppendMetric(ctx, &types.ComplianceMetric{MetricType: "other", Value: 1, Timestamp: now})
	require.NoError(t, err)

	rows, err := store.MetricsSince(ctx, now.Add(-time.Minute), "p55_real_execution_rate")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	latest, err := store.LatestMetric(ctx, "p55_real_execution_rate")
	require.NoError(t, err)
	assert.Equal(t, 0.97, latest.Value)

	_, err = store.LatestMetric(ctx, "absent")
	assert.True(t, errors.Is(err, ErrNotFound))

	p := &types.Prediction{
		ID: "p1", Timestamp: now, Class: types.ClassHigh, Probability: 0.82, Confidence: 0.82,
		RiskLevel: "HIGH", HorizonHours: 24, ModelName: "random_forest",
		Features:        []types.FeatureContribution{{Name: "alerts_high_24h", Importance: 0.4, Value: 3}},
		Recommendations: []string{"review high severity alerts"},
	}
	require.NoError(t, store.AppendPrediction(ctx, p))

	preds, err := store.RecentPredictions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, types.ClassHigh, preds[0].Class)
	assert.Equal(t, "HIGH", preds[0].ClassLabel)
	assert.Equal(t, p.Features, preds[0].Features)
}
