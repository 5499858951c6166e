package storage

import (
	"context"
	"time"

	"github.com/steveyegge/governor/internal/storage/sqlite"
	"github.com/steveyegge/governor/internal/types"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = sqlite.ErrNotFound

// Storage defines the interface for the governance store. Each table has a
// single writing component; any component may read.
type Storage interface {
	// Rules (written by the rule extractor and the orchestration enforcer)
	UpsertRule(ctx context.Context, rule *types.Rule) error
	GetRule(ctx context.Context, id string) (*types.Rule, error)
	ActiveRules(ctx context.Context) ([]*types.Rule, error)
	ListRules(ctx context.Context) ([]*types.Rule, error)
	DeactivateRulesExcept(ctx context.Context, prefix string, keep []string) (int, error)

	// Violations (written by the principle engine and orchestration enforcer)
	AppendViolation(ctx context.Context, v *types.Violation) (int64, error)
	ResolveViolation(ctx context.Context, id int64) error
	RecentViolations(ctx context.Context, since time.Time, limit int) ([]*types.Violation, error)
	RuleStats(ctx context.Context, since time.Time, topN int) (*types.RuleStats, error)

	// Threshold events (written by the growth monitor)
	AppendThresholdEvent(ctx context.Context, e *types.ThresholdEvent) (int64, error)
	ThresholdEventsSince(ctx context.Context, since time.Time) ([]*types.ThresholdEvent, error)

	// Timings (written by the execution-time collector)
	UpsertInstruction(ctx context.Context, it *types.InstructionTiming) error
	GetInstruction(ctx context.Context, sessionID, instructionID string) (*types.InstructionTiming, error)
	OpenInstructions(ctx context.Context, sessionID string) ([]*types.InstructionTiming, error)
	InstructionsSince(ctx context.Context, sinceMs int64) ([]*types.InstructionTiming, error)
	AppendToolTiming(ctx context.Context, tt *types.ToolTiming) (int64, error)
	UpdateToolTiming(ctx context.Context, tt *types.ToolTiming) error
	LatestOpenToolTiming(ctx context.Context, sessionID, instructionID, toolName string) (*types.ToolTiming, error)
	ToolTimings(ctx context.Context, sessionID, instructionID string) ([]*types.ToolTiming, error)
	ToolTimingsSince(ctx context.Context, sinceMs int64) ([]*types.ToolTiming, error)

	// Compliance metrics (written by the validator and the growth monitor)
	AppendMetric(ctx context.Context, m *types.ComplianceMetric) (int64, error)
	MetricsSince(ctx context.Context, since time.Time, metricTypes ...string) ([]*types.ComplianceMetric, error)
	LatestMetric(ctx context.Context, metricType string) (*types.ComplianceMetric, error)

	// Predictions (written by the predictor)
	AppendPrediction(ctx context.Context, p *types.Prediction) error
	RecentPredictions(ctx context.Context, limit int) ([]*types.Prediction, error)

	// Alerts merges violated threshold events and rule violations.
	AlertsSince(ctx context.Context, since time.Time) ([]*types.Alert, error)

	// Lifecycle
	Close() error
}
