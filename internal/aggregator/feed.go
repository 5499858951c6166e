package aggregator

import (
	"time"

	"github.com/steveyegge/governor/internal/compliance"
	"github.com/steveyegge/governor/internal/types"
)

// Feed is the dashboard JSON document written each cycle.
type Feed struct {
	GeneratedAt time.Time `json:"generated_at"`
	WindowHours float64   `json:"window_hours"`

	ByType     map[types.InstructionType]*TypeStats `json:"by_instruction_type"`
	Tiers      map[types.PerformanceTier]int        `json:"performance_tiers"`
	Tools      map[string]*ToolStats                `json:"tools"`
	Overall    Overall                              `json:"overall"`
	Thresholds ThresholdRates                       `json:"threshold_compliance"`
	Hourly     []HourBucket                         `json:"hourly_trends"`
	Realtime   Realtime                             `json:"realtime"`
	Governance Governance                           `json:"governance"`
}

type TypeStats struct {
	Count         int     `json:"count"`
	AvgMs         float64 `json:"avg_execution_ms"`
	MinMs         int64   `json:"min_execution_ms"`
	MaxMs         int64   `json:"max_execution_ms"`
	AvgToolCalls  float64 `json:"avg_tool_calls"`
	AvgComplexity float64 `json:"avg_complexity"`
	SuccessRate   float64 `json:"success_rate"`
}

type ToolStats struct {
	Count          int     `json:"count"`
	AvgMs          float64 `json:"avg_execution_ms"`
	MinMs          int64   `json:"min_execution_ms"`
	MaxMs          int64   `json:"max_execution_ms"`
	SuccessRate    float64 `json:"success_rate"`
	AvgResultBytes float64 `json:"avg_result_size_bytes"`
}

// Overall summarizes every instruction in the window. Open instructions past
// the grace period count as terminated; younger ones are in progress and
// excluded from the rates.
type Overall struct {
	Instructions  int     `json:"instructions"`
	Completed     int     `json:"completed"`
	InProgress    int     `json:"in_progress"`
	Terminated    int     `json:"terminated"`
	ToolCalls     int     `json:"tool_calls"`
	AvgMs         float64 `json:"avg_execution_ms"`
	AvgToolCalls  float64 `json:"avg_tool_calls"`
	AvgComplexity float64 `json:"avg_complexity"`
	SuccessRate   float64 `json:"success_rate"`

	RealExecutionRate float64 `json:"p55_real_execution_rate"`
	TransparencyRate  float64 `json:"p56_transparency_rate"`
	EvidenceRate      float64 `json:"evidence_documentation_rate"`
	RealWorkRatio     float64 `json:"real_work_ratio"`
	ToolSuccessRate   float64 `json:"tool_success_rate"`
	RealToolRate      float64 `json:"real_tool_execution_rate"`
	AvgToolMs         float64 `json:"avg_tool_execution_ms"`
}

type ThresholdRates struct {
	Within30s          float64 `json:"within_30s_rate"`
	Within2m           float64 `json:"within_2min_rate"`
	EfficientToolUsage float64 `json:"efficient_tool_usage_rate"`
}

type HourBucket struct {
	Hour  int     `json:"hour"`
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_execution_ms"`
}

type Realtime struct {
	WindowMinutes int     `json:"window_minutes"`
	Instructions  int     `json:"instructions"`
	ToolCalls     int     `json:"tool_calls"`
	AvgMs         float64 `json:"avg_execution_ms"`
}

type Governance struct {
	ThresholdEvents   map[types.ThresholdEventKind]int `json:"threshold_events"`
	ViolatedEvents    int                              `json:"violated_threshold_events"`
	RuleViolations    int                              `json:"rule_violations"`
	UnresolvedRules   int                              `json:"unresolved_rule_violations"`
	HealthScore       *float64                         `json:"health_score,omitempty"`
	HealthCollectedAt *time.Time                       `json:"health_collected_at,omitempty"`
}

// ComplianceFeed is the compliance JSON document written each cycle.
type ComplianceFeed struct {
	GeneratedAt time.Time          `json:"generated_at"`
	WindowHours float64            `json:"window_hours"`
	Report      *compliance.Report `json:"report"`
}

// Measurements maps the overall rates onto the compliance inputs.
func (f *Feed) Measurements() compliance.Measurements {
	return compliance.Measurements{
		Instructions:              f.Overall.Completed + f.Overall.Terminated,
		ToolCalls:                 f.Overall.ToolCalls,
		RealExecutionRate:         f.Overall.RealExecutionRate,
		InstructionCompletionRate: f.Overall.SuccessRate,
		ToolSuccessRate:           f.Overall.ToolSuccessRate,
		RealToolExecutionRate:     f.Overall.RealToolRate,
		TransparencyRate:          f.Overall.TransparencyRate,
		EvidenceRate:              f.Overall.EvidenceRate,
		AvgToolResponseMs:         f.Overall.AvgToolMs,
	}
}
