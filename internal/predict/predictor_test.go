package predict

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/storage/sqlite"
	"github.com/steveyegge/governor/internal/types"
)

type predictorFixture struct {
	p     *Predictor
	store *sqlite.SQLiteStorage
	dir   string
}

func newPredictorFixture(t *testing.T) *predictorFixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "governor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	p, err := New(Config{
		Store:       store,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:       clockwork.NewFakeClockAt(testNow),
		ModelDir:    dir,
		MetricTypes: []string{"governance_health_score"},
	})
	require.NoError(t, err)
	return &predictorFixture{p: p, store: store, dir: dir}
}

// seed writes hourly health scores for the given number of days. On even days
// the score sags through the afternoon and a HIGH alert fires at 18:00.
func (f *predictorFixture) seed(t *testing.T, days int) {
	t.Helper()
	ctx := context.Background()
	start := testNow.Add(-time.Duration(days) * 24 * time.Hour)
	for at := start; at.Before(testNow); at = at.Add(time.Hour) {
		day := int(at.Sub(start) / (24 * time.Hour))
		value, ok := 0.95, true
		if day%2 == 0 && at.Hour() >= 12 {
			value, ok = 0.6, false
		}
		_, err := f.store.AppendMetric(ctx, &types.ComplianceMetric{
			MetricType: "governance_health_score", Value: value, Threshold: 0.8, Compliant: ok, Timestamp: at,
		})
		require.NoError(t, err)
		if day%2 == 0 && at.Hour() == 18 {
			_, err := f.store.AppendThresholdEvent(ctx, &types.ThresholdEvent{
				Timestamp: at, Kind: types.EventFileSizeViolation, FilePath: "big.go",
				Severity: types.SeverityHigh, ThresholdViolated: true, ResponseMs: 40,
			})
			require.NoError(t, err)
		}
	}
}

func (f *predictorFixture) reports(t *testing.T, prefix string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.dir, "reports", prefix+"_*.json"))
	require.NoError(t, err)
	return matches
}

func TestTrain_InsufficientData(t *testing.T) {
	f := newPredictorFixture(t)
	_, err := f.p.Train(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientData)

	f.seed(t, 1)
	_, err = f.p.Train(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientData, "no sample has a complete horizon yet")
}

func TestTrain_SelectsBestModel(t *testing.T) {
	f := newPredictorFixture(t)
	f.seed(t, 10)

	report, err := f.p.Train(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Candidates, 3)
	best := report.Candidates[0]
	for _, c := range report.Candidates[1:] {
		if c.Accuracy > best.Accuracy {
			best = c
		}
	}
	assert.Equal(t, best.Model, report.Selected)
	assert.Equal(t, best.Accuracy, report.Accuracy)
	assert.Equal(t, report.Samples, report.TrainSamples+report.TestSamples)
	assert.Greater(t, report.ClassCounts["HIGH"], 0)
	assert.Greater(t, report.ClassCounts["NONE"], 0)
	assert.Equal(t, report.Accuracy >= DefaultTargetAccuracy, report.MeetsTarget)
	assert.LessOrEqual(t, len(report.TopFeatures), topFeatures)

	art, model, err := f.p.LoadModel()
	require.NoError(t, err)
	assert.Equal(t, report.Selected, art.Model)
	assert.Equal(t, report.RunID, art.RunID)
	assert.Equal(t, FeatureNames([]string{"governance_health_score"}), art.FeatureNames)
	assert.NotNil(t, model)
	assert.Len(t, f.reports(t, "training"), 1)
}

func TestRun_WithoutModel(t *testing.T) {
	f := newPredictorFixture(t)
	preds, err := f.p.Run(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.NotNil(t, preds)
	assert.Empty(t, preds)

	m, err := f.store.LatestMetric(context.Background(), AvailabilityMetricType)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Value)
	assert.False(t, m.Compliant)
}

func TestRun_CorruptModel(t *testing.T) {
	f := newPredictorFixture(t)
	require.NoError(t, os.WriteFile(f.p.ModelPath(), []byte("{"), 0644))
	_, err := f.p.Run(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRun_EmitsPrediction(t *testing.T) {
	f := newPredictorFixture(t)
	f.seed(t, 10)
	ctx := context.Background()
	_, err := f.p.Train(ctx)
	require.NoError(t, err)

	preds, err := f.p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	p := preds[0]
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, p.Class.String(), p.ClassLabel)
	assert.Equal(t, p.Probability, p.Confidence)
	assert.Equal(t, types.RiskLevelFor(p.Probability), p.RiskLevel)
	assert.Equal(t, DefaultHorizonHours, p.HorizonHours)
	assert.LessOrEqual(t, len(p.Features), topFeatures)
	assert.NotEmpty(t, p.Recommendations)

	stored, err := f.store.RecentPredictions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, p.ID, stored[0].ID)

	m, err := f.store.LatestMetric(ctx, AvailabilityMetricType)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Value)
	assert.Len(t, f.reports(t, "predictions"), 1)

	st, err := f.p.Stats(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, st.Model)
	assert.Equal(t, 1, st.RiskLevels[p.RiskLevel])
}

func TestStats_NoModel(t *testing.T) {
	f := newPredictorFixture(t)
	st, err := f.p.Stats(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, st.Model)
	assert.Empty(t, st.Predictions)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Store: &sqlite.SQLiteStorage{}, Logger: slog.Default(), ModelDir: "m"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHorizonHours, cfg.HorizonHours)
	assert.Equal(t, DefaultMetricTypes, cfg.MetricTypes)

	cfg.TargetAccuracy = 1.5
	assert.Error(t, cfg.Validate())

	assert.Error(t, (&Config{Logger: slog.Default(), ModelDir: "m"}).Validate())
}

func TestRecommend(t *testing.T) {
	assert.Len(t, recommend(types.ClassNone, []types.FeatureContribution{{Name: "alerts_high_1h"}}), 1)

	recs := recommend(types.ClassHigh, []types.FeatureContribution{
		{Name: "alerts_high_1h", Value: 2},
		{Name: "alerts_high_6h", Value: 3},
		{Name: "governance_health_score_slope_5", Value: -0.1},
	})
	assert.Contains(t, recs[0], "HIGH")
	assert.Contains(t, recs, "Triage recent HIGH alerts; they predict further violations")
	assert.Contains(t, recs, "Investigate the declining trend in governance_health_score")
	assert.Contains(t, recs, "Review the governance health trend on the dashboard")

	seen := map[string]bool{}
	for _, r := range recs {
		assert.False(t, seen[r], "duplicate recommendation %q", r)
		seen[r] = true
	}
}

func TestContributions_TopN(t *testing.T) {
	names := []string{"a", "b", "c"}
	got := contributions(names, []float64{0.2, 0.5, 0.3}, []float64{1, 2, 3}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, 2.0, got[0].Value)
	assert.Equal(t, "c", got[1].Name)
}
