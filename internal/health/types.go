package health

import (
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// Thresholds are the growth limits the monitor enforces.
type Thresholds struct {
	// FileSizeLines is the maximum line count of one file.
	FileSizeLines int `yaml:"file_size_lines"`

	// DuplicationRatio is the maximum share of a file's line windows that
	// also appear elsewhere in the tracked corpus.
	DuplicationRatio float64 `yaml:"duplication_ratio"`

	// TechnicalDebtCount is the maximum number of debt markers in the tree.
	TechnicalDebtCount int `yaml:"technical_debt_count"`

	// NavigationSteps is the maximum mean directory depth of tracked files.
	NavigationSteps float64 `yaml:"navigation_steps"`

	// ComplianceScore is the minimum share of tracked files within the
	// per-file limits.
	ComplianceScore float64 `yaml:"compliance_score"`
}

// DefaultThresholds returns the standard growth limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FileSizeLines:      1500,
		DuplicationRatio:   0.20,
		TechnicalDebtCount: 19,
		NavigationSteps:    2.5,
		ComplianceScore:    0.95,
	}
}

// ChangeKind is what happened to a monitored file.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
)

// Change is one file notification entering the pipeline.
type Change struct {
	Kind ChangeKind
	Path string // absolute
	At   time.Time
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Mode          string    `json:"mode"`
	Tracked       int       `json:"tracked_files"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	Processed     int64     `json:"processed"`
	Dropped       int64     `json:"dropped"`
	Debounced     int64     `json:"debounced"`
	Events        int64     `json:"threshold_events"`
	LatencyAvgMs  float64   `json:"latency_avg_ms"`
	LatencyMaxMs  float64   `json:"latency_max_ms"`
	SLOMs         float64   `json:"slo_ms"`
	HealthScore   float64   `json:"health_score"`
	CollectedAt   time.Time `json:"collected_at"`
}

// finding is one threshold observation produced by the registry.
type finding struct {
	Kind      types.ThresholdEventKind
	Path      string
	Current   float64
	Threshold float64
	Violated  bool
}

// remediable lists the event kinds handed to the external remediator.
var remediable = map[types.ThresholdEventKind]bool{
	types.EventFileSizeViolation:      true,
	types.EventDuplicationDetected:    true,
	types.EventTechnicalDebtThreshold: true,
}

// severityFor grades a violation by how far it overshoots its limit.
func severityFor(kind types.ThresholdEventKind, current, threshold float64) types.Severity {
	switch kind {
	case types.EventFileSizeViolation:
		if current > 2*threshold {
			return types.SeverityCritical
		}
		return types.SeverityHigh
	case types.EventDuplicationDetected, types.EventTechnicalDebtThreshold:
		if current > 2*threshold {
			return types.SeverityHigh
		}
		return types.SeverityMedium
	case types.EventComplianceBelow:
		if current < threshold/2 {
			return types.SeverityCritical
		}
		return types.SeverityHigh
	case types.EventNavigationComplexity, types.EventPerformanceDegraded:
		return types.SeverityMedium
	}
	return types.SeverityLow
}
