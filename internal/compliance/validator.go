package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// Summary metric rows written after the per-check rows.
const (
	MetricP55Overall = "p55_overall"
	MetricP56Overall = "p56_overall"
	MetricCombined   = "combined_compliance"
)

// CombinedFloor is the combined score, in percent, below which the
// combined row is marked non-compliant.
const CombinedFloor = 95.0

type Config struct {
	Store      storage.Storage
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Thresholds Thresholds
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	return c.Thresholds.Validate()
}

// Validator evaluates measurements and records the outcome as metric rows.
type Validator struct {
	cfg Config
	log *slog.Logger
}

func NewValidator(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Validator{cfg: cfg, log: cfg.Logger.With("component", "compliance")}, nil
}

// Run evaluates m and persists one row per check plus the protocol and
// combined summaries. Failed writes are logged and dropped.
func (v *Validator) Run(ctx context.Context, m Measurements) *Report {
	r := Evaluate(m, v.cfg.Thresholds)
	now := v.cfg.Clock.Now()

	var rows []*types.ComplianceMetric
	for _, p := range []ProtocolResult{r.P55, r.P56} {
		for _, c := range p.Checks {
			details, _ := json.Marshal(map[string]string{"protocol": c.Protocol, "requirement": c.Requirement, "unit": c.Unit})
			rows = append(rows, &types.ComplianceMetric{
				MetricType: strings.ToLower(c.Protocol) + "_" + c.Name,
				Value:      c.Value,
				Threshold:  c.Threshold,
				Compliant:  c.Passed,
				Details:    string(details),
				Timestamp:  now,
			})
		}
	}
	overall := func(metricType string, p ProtocolResult) *types.ComplianceMetric {
		var failed []string
		for _, c := range p.Checks {
			if !c.Passed {
				failed = append(failed, c.Violation())
			}
		}
		details, _ := json.Marshal(map[string]any{"failed": failed})
		return &types.ComplianceMetric{
			MetricType: metricType, Value: p.Score, Threshold: 100,
			Compliant: p.Compliant, Details: string(details), Timestamp: now,
		}
	}
	combinedDetails, _ := json.Marshal(map[string]any{
		"instructions": m.Instructions, "tool_calls": m.ToolCalls, "violations": r.Violations,
	})
	rows = append(rows,
		overall(MetricP55Overall, r.P55),
		overall(MetricP56Overall, r.P56),
		&types.ComplianceMetric{
			MetricType: MetricCombined, Value: r.CombinedScore, Threshold: CombinedFloor,
			Compliant: r.Compliant && r.CombinedScore >= CombinedFloor, Details: string(combinedDetails), Timestamp: now,
		},
	)

	for _, row := range rows {
		err := storage.WriteWithRetry(ctx, v.log, "compliance metric", func() error {
			_, err := v.cfg.Store.AppendMetric(ctx, row)
			return err
		})
		if err != nil {
			metrics.StoreWriteDrops.WithLabelValues("metric").Inc()
		}
	}

	metrics.ComplianceScore.WithLabelValues(ProtocolP55).Set(r.P55.Score)
	metrics.ComplianceScore.WithLabelValues(ProtocolP56).Set(r.P56.Score)
	metrics.ComplianceScore.WithLabelValues("combined").Set(r.CombinedScore)
	if !r.Compliant {
		v.log.Warn("compliance below threshold", "combined", r.CombinedScore, "violations", r.Violations)
	}
	return r
}

// History returns the combined score rows recorded since the given time.
func (v *Validator) History(ctx context.Context, since time.Time) ([]*types.ComplianceMetric, error) {
	return v.cfg.Store.MetricsSince(ctx, since, MetricCombined, MetricP55Overall, MetricP56Overall)
}
