// Package predict trains classifiers on governance history and forecasts the
// most severe violation class expected within the next horizon.
package predict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

var (
	// ErrModelUnavailable means no trained model could be loaded.
	ErrModelUnavailable = errors.New("prediction model unavailable")
	// ErrInsufficientData means history is too short to build a training set.
	ErrInsufficientData = errors.New("insufficient data for training")
)

const (
	DefaultHorizonHours   = 24
	DefaultTargetAccuracy = 0.85
	DefaultSampleInterval = time.Hour
	DefaultTrainingWindow = 30 * 24 * time.Hour
	DefaultMinSamples     = 20
	DefaultSeed           = 42

	// ModelFile is the artifact name inside the model directory.
	ModelFile = "model.json"
	// AvailabilityMetricType records whether scoring had a model to use.
	AvailabilityMetricType = "predictive_model_available"

	testFraction = 0.2
)

// DefaultMetricTypes are the metric series features are built from.
var DefaultMetricTypes = []string{
	"governance_health_score",
	"p55_overall",
	"p56_overall",
	"combined_compliance",
}

type Config struct {
	Store  storage.Storage
	Logger *slog.Logger
	Clock  clockwork.Clock

	// ModelDir holds model.json; reports go to ModelDir/reports.
	ModelDir string

	HorizonHours   int
	TargetAccuracy float64
	SampleInterval time.Duration
	TrainingWindow time.Duration
	MinSamples     int
	MetricTypes    []string
	Seed           uint64
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.ModelDir == "" {
		return errors.New("model directory is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.HorizonHours == 0 {
		c.HorizonHours = DefaultHorizonHours
	}
	if c.TargetAccuracy == 0 {
		c.TargetAccuracy = DefaultTargetAccuracy
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.TrainingWindow == 0 {
		c.TrainingWindow = DefaultTrainingWindow
	}
	if c.MinSamples == 0 {
		c.MinSamples = DefaultMinSamples
	}
	if len(c.MetricTypes) == 0 {
		c.MetricTypes = DefaultMetricTypes
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	if c.HorizonHours < 1 {
		return fmt.Errorf("horizon must be at least 1 hour, got %d", c.HorizonHours)
	}
	if c.TargetAccuracy < 0 || c.TargetAccuracy > 1 {
		return fmt.Errorf("target accuracy must be within [0,1], got %v", c.TargetAccuracy)
	}
	if c.SampleInterval < time.Minute {
		return fmt.Errorf("sample interval must be at least 1m, got %v", c.SampleInterval)
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("min samples must be at least 2, got %d", c.MinSamples)
	}
	return nil
}

// Artifact is the serialized model. Exactly one model field is set.
type Artifact struct {
	RunID        string    `json:"run_id"`
	TrainedAt    time.Time `json:"trained_at"`
	Model        string    `json:"model"`
	Accuracy     float64   `json:"accuracy"`
	Classes      int       `json:"classes"`
	HorizonHours int       `json:"horizon_hours"`
	MetricTypes  []string  `json:"metric_types"`
	FeatureNames []string  `json:"feature_names"`

	RandomForest     *RandomForest     `json:"random_forest,omitempty"`
	GradientBoosting *GradientBoosting `json:"gradient_boosting,omitempty"`
	Logistic         *Logistic         `json:"logistic_regression,omitempty"`
}

func newArtifact(c Classifier) *Artifact {
	a := &Artifact{Model: c.Name()}
	switch m := c.(type) {
	case *RandomForest:
		a.RandomForest = m
	case *GradientBoosting:
		a.GradientBoosting = m
	case *Logistic:
		a.Logistic = m
	}
	return a
}

func (a *Artifact) classifier() (Classifier, error) {
	var c Classifier
	switch a.Model {
	case ModelRandomForest:
		if a.RandomForest != nil {
			c = a.RandomForest
		}
	case ModelGradientBoosting:
		if a.GradientBoosting != nil {
			c = a.GradientBoosting
		}
	case ModelLogistic:
		if a.Logistic != nil {
			c = a.Logistic
		}
	}
	if c == nil {
		return nil, fmt.Errorf("artifact has no %q model", a.Model)
	}
	return c, nil
}

// ModelScore is one candidate's held-out accuracy.
type ModelScore struct {
	Model    string  `json:"model"`
	Accuracy float64 `json:"accuracy"`
}

// TrainingReport is written once per training run.
type TrainingReport struct {
	RunID          string                      `json:"run_id"`
	TrainedAt      time.Time                   `json:"trained_at"`
	Samples        int                         `json:"samples"`
	TrainSamples   int                         `json:"train_samples"`
	TestSamples    int                         `json:"test_samples"`
	ClassCounts    map[string]int              `json:"class_counts"`
	Candidates     []ModelScore                `json:"candidates"`
	Selected       string                      `json:"selected_model"`
	Accuracy       float64                     `json:"accuracy"`
	TargetAccuracy float64                     `json:"target_accuracy"`
	MeetsTarget    bool                        `json:"meets_target"`
	TopFeatures    []types.FeatureContribution `json:"top_features"`
	ModelPath      string                      `json:"model_path"`
}

// BatchReport is written once per scoring run.
type BatchReport struct {
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Model       string              `json:"model"`
	RiskLevels  map[string]int      `json:"risk_levels"`
	Predictions []*types.Prediction `json:"predictions"`
}

// Stats summarizes the deployed model and recent predictions.
type Stats struct {
	Model       *Artifact           `json:"model,omitempty"`
	Predictions []*types.Prediction `json:"recent_predictions"`
	RiskLevels  map[string]int      `json:"risk_levels"`
}

type Predictor struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Predictor{cfg: cfg, log: cfg.Logger.With("component", "predict")}, nil
}

func (p *Predictor) ModelPath() string { return filepath.Join(p.cfg.ModelDir, ModelFile) }

func (p *Predictor) reportPath(kind string, at time.Time) string {
	return filepath.Join(p.cfg.ModelDir, "reports", kind+"_"+at.UTC().Format("20060102T150405Z")+".json")
}

func (p *Predictor) horizon() time.Duration {
	return time.Duration(p.cfg.HorizonHours) * time.Hour
}

func (p *Predictor) loadHistory(ctx context.Context, metricTypes []string, since time.Time) (*history, error) {
	rows, err := p.cfg.Store.MetricsSince(ctx, since, metricTypes...)
	if err != nil {
		return nil, fmt.Errorf("reading metrics: %w", err)
	}
	alerts, err := p.cfg.Store.AlertsSince(ctx, since.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("reading alerts: %w", err)
	}
	return newHistory(metricTypes, rows, alerts), nil
}

// dataset samples feature rows every SampleInterval from the first
// observation until the last point whose label horizon has fully elapsed.
func (p *Predictor) dataset(h *history, since, now time.Time) ([][]float64, []int) {
	first, _, ok := h.span()
	if !ok {
		return nil, nil
	}
	if first.Before(since) {
		first = since
	}
	var X [][]float64
	var y []int
	last := now.Add(-p.horizon())
	for t := first.Truncate(p.cfg.SampleInterval).Add(p.cfg.SampleInterval); !t.After(last); t = t.Add(p.cfg.SampleInterval) {
		X = append(X, h.features(t))
		y = append(y, int(h.label(t, p.horizon())))
	}
	return X, y
}

// Train builds a dataset from history, fits every candidate, and deploys the
// one with the best held-out accuracy.
func (p *Predictor) Train(ctx context.Context) (*TrainingReport, error) {
	now := p.cfg.Clock.Now()
	since := now.Add(-p.cfg.TrainingWindow)
	h, err := p.loadHistory(ctx, p.cfg.MetricTypes, since)
	if err != nil {
		return nil, err
	}
	X, y := p.dataset(h, since, now)
	if len(X) < p.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(X), p.cfg.MinSamples)
	}

	classes := types.NumViolationClasses
	split := rand.New(rand.NewPCG(p.cfg.Seed, 0))
	trainIdx, testIdx := stratifiedSplit(y, classes, testFraction, split)
	trainX, trainY := subset(X, y, trainIdx)
	testX, testY := subset(X, y, testIdx)
	if len(testX) == 0 {
		testX, testY = trainX, trainY
	}

	report := &TrainingReport{
		RunID:          uuid.New().String(),
		TrainedAt:      now.UTC(),
		Samples:        len(X),
		TrainSamples:   len(trainIdx),
		TestSamples:    len(testIdx),
		ClassCounts:    map[string]int{},
		TargetAccuracy: p.cfg.TargetAccuracy,
		ModelPath:      p.ModelPath(),
	}
	for _, c := range y {
		report.ClassCounts[types.ViolationClass(c).String()]++
	}

	var best Classifier
	bestAcc := -1.0
	for i, c := range newClassifiers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Fit(trainX, trainY, classes, rand.New(rand.NewPCG(p.cfg.Seed, uint64(i+1))))
		acc := accuracy(c, testX, testY)
		metrics.ModelAccuracy.WithLabelValues(c.Name()).Set(acc)
		report.Candidates = append(report.Candidates, ModelScore{Model: c.Name(), Accuracy: round(acc)})
		p.log.Debug("candidate trained", "model", c.Name(), "accuracy", acc)
		if acc > bestAcc {
			best, bestAcc = c, acc
		}
	}

	names := FeatureNames(p.cfg.MetricTypes)
	report.Selected = best.Name()
	report.Accuracy = round(bestAcc)
	report.MeetsTarget = bestAcc >= p.cfg.TargetAccuracy
	report.TopFeatures = contributions(names, best.Importances(), make([]float64, len(names)), topFeatures)
	if !report.MeetsTarget {
		p.log.Warn("model accuracy below target; deploying anyway",
			"model", best.Name(), "accuracy", bestAcc, "target", p.cfg.TargetAccuracy)
	}

	art := newArtifact(best)
	art.RunID = report.RunID
	art.TrainedAt = report.TrainedAt
	art.Accuracy = report.Accuracy
	art.Classes = classes
	art.HorizonHours = p.cfg.HorizonHours
	art.MetricTypes = p.cfg.MetricTypes
	art.FeatureNames = names
	if err := storage.WriteJSONAtomic(p.ModelPath(), art); err != nil {
		return nil, fmt.Errorf("writing model: %w", err)
	}
	if err := storage.WriteJSONAtomic(p.reportPath("training", now), report); err != nil {
		return nil, fmt.Errorf("writing training report: %w", err)
	}
	p.log.Info("model trained", "model", best.Name(), "accuracy", report.Accuracy,
		"samples", len(X), "run_id", report.RunID)
	return report, nil
}

// LoadModel reads the deployed artifact.
func (p *Predictor) LoadModel() (*Artifact, Classifier, error) {
	data, err := os.ReadFile(p.ModelPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: no model at %s", ErrModelUnavailable, p.ModelPath())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing %s: %v", ErrModelUnavailable, p.ModelPath(), err)
	}
	c, err := art.classifier()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if want := len(FeatureNames(art.MetricTypes)); len(art.FeatureNames) != want {
		return nil, nil, fmt.Errorf("%w: artifact lists %d features, layout has %d", ErrModelUnavailable, len(art.FeatureNames), want)
	}
	return &art, c, nil
}

// Run scores the current moment. Without a model it returns an empty list
// and ErrModelUnavailable, and records the degraded state as a metric row.
func (p *Predictor) Run(ctx context.Context) ([]*types.Prediction, error) {
	now := p.cfg.Clock.Now()
	art, model, err := p.LoadModel()
	if err != nil {
		p.recordAvailability(ctx, now, false, err.Error())
		return []*types.Prediction{}, err
	}

	h, err := p.loadHistory(ctx, art.MetricTypes, now.Add(-p.cfg.TrainingWindow))
	if err != nil {
		return []*types.Prediction{}, err
	}
	x := h.features(now)
	class, prob := predictClass(model, x)
	prob = round(prob)
	feats := contributions(art.FeatureNames, model.Importances(), x, topFeatures)
	pred := &types.Prediction{
		ID:              uuid.New().String(),
		Timestamp:       now.UTC(),
		Class:           types.ViolationClass(class),
		ClassLabel:      types.ViolationClass(class).String(),
		Probability:     prob,
		Confidence:      prob,
		RiskLevel:       types.RiskLevelFor(prob),
		Features:        feats,
		Recommendations: recommend(types.ViolationClass(class), feats),
		HorizonHours:    art.HorizonHours,
		ModelName:       art.Model,
	}

	if err := storage.WriteWithRetry(ctx, p.log, "prediction", func() error {
		return p.cfg.Store.AppendPrediction(ctx, pred)
	}); err != nil {
		metrics.StoreWriteDrops.WithLabelValues("prediction").Inc()
	}
	metrics.PredictionsEmitted.WithLabelValues(pred.RiskLevel).Inc()
	p.recordAvailability(ctx, now, true, art.Model)

	preds := []*types.Prediction{pred}
	batch := &BatchReport{
		RunID:       uuid.New().String(),
		GeneratedAt: now.UTC(),
		Model:       art.Model,
		RiskLevels:  riskLevels(preds),
		Predictions: preds,
	}
	if err := storage.WriteJSONAtomic(p.reportPath("predictions", now), batch); err != nil {
		return preds, fmt.Errorf("writing prediction report: %w", err)
	}
	p.log.Info("prediction emitted", "class", pred.ClassLabel, "probability", pred.Probability,
		"risk", pred.RiskLevel, "model", art.Model)
	return preds, nil
}

func (p *Predictor) recordAvailability(ctx context.Context, at time.Time, ok bool, details string) {
	value := 0.0
	if ok {
		value = 1
	}
	m := &types.ComplianceMetric{
		MetricType: AvailabilityMetricType,
		Value:      value,
		Threshold:  1,
		Compliant:  ok,
		Details:    types.Truncate(details, 500),
		Timestamp:  at,
	}
	if err := storage.WriteWithRetry(ctx, p.log, "metric", func() error {
		_, err := p.cfg.Store.AppendMetric(ctx, m)
		return err
	}); err != nil {
		metrics.StoreWriteDrops.WithLabelValues("metric").Inc()
	}
}

// Stats reports the deployed model, if any, and the newest predictions.
func (p *Predictor) Stats(ctx context.Context, limit int) (*Stats, error) {
	preds, err := p.cfg.Store.RecentPredictions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reading predictions: %w", err)
	}
	st := &Stats{Predictions: preds, RiskLevels: riskLevels(preds)}
	art, _, err := p.LoadModel()
	switch {
	case err == nil:
		st.Model = art
	case !errors.Is(err, ErrModelUnavailable):
		return nil, err
	}
	return st, nil
}

func riskLevels(preds []*types.Prediction) map[string]int {
	out := map[string]int{}
	for _, p := range preds {
		out[p.RiskLevel]++
	}
	return out
}

// stratifiedSplit holds out frac of each class, at least one row from any
// class with two or more rows.
func stratifiedSplit(y []int, classes int, frac float64, rng *rand.Rand) (train, test []int) {
	byClass := make([][]int, classes)
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	for _, idx := range byClass {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(math.Round(float64(len(idx)) * frac))
		if n == 0 && len(idx) >= 2 {
			n = 1
		}
		test = append(test, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	return train, test
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	sx := make([][]float64, len(idx))
	sy := make([]int, len(idx))
	for k, i := range idx {
		sx[k], sy[k] = X[i], y[i]
	}
	return sx, sy
}

func accuracy(c Classifier, X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	correct := 0
	for i, x := range X {
		if k, _ := predictClass(c, x); k == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X))
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
