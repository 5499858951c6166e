package types

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSnippetLength bounds every free-text field persisted by the store.
const MaxSnippetLength = 500

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Snippet truncates s to MaxSnippetLength runes.
func Snippet(s string) string {
	return Truncate(s, MaxSnippetLength)
}

// RuleKind is the enforcement intent keyword a rule was extracted from.
type RuleKind string

const (
	KindWill          RuleKind = "WILL"
	KindMust          RuleKind = "MUST"
	KindDebe          RuleKind = "DEBE"
	KindBlocking      RuleKind = "BLOCKING"
	KindCritical      RuleKind = "CRITICAL"
	KindMaximum       RuleKind = "MAXIMUM"
	KindMandatory     RuleKind = "MANDATORY"
	KindAutomatic     RuleKind = "AUTOMATIC"
	KindZeroTolerance RuleKind = "ZERO_TOLERANCE"
)

// AllRuleKinds lists the kinds in extraction order.
var AllRuleKinds = []RuleKind{
	KindWill, KindMust, KindDebe, KindBlocking, KindCritical,
	KindMaximum, KindMandatory, KindAutomatic, KindZeroTolerance,
}

// IsValid checks if the kind value is valid
func (k RuleKind) IsValid() bool {
	switch k {
	case KindWill, KindMust, KindDebe, KindBlocking, KindCritical,
		KindMaximum, KindMandatory, KindAutomatic, KindZeroTolerance:
		return true
	}
	return false
}

// IsHardBlocking reports whether a fired rule of this kind always blocks.
func (k RuleKind) IsHardBlocking() bool {
	return k == KindBlocking || k == KindMaximum || k == KindCritical
}

// Severity ranks how serious a rule or event is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// AllSeverities lists severities from most to least severe.
var AllSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank maps severities onto 0 (LOW) .. 3 (CRITICAL).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// IsBlocking reports whether a fired rule of this severity blocks.
func (s Severity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ParseSeverity accepts any casing.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("invalid severity: %q", s)
	}
	return sev, nil
}

// Rule is a single enforcement intent parsed from the governing document.
type Rule struct {
	ID              string    `json:"id"`
	Kind            RuleKind  `json:"kind"`
	Severity        Severity  `json:"severity"`
	PrincipleRef    string    `json:"principle_ref,omitempty"`
	Description     string    `json:"description"`
	Triggers        []string  `json:"triggers"`
	Actions         []string  `json:"actions"`
	AutoRemediation bool      `json:"auto_remediation"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks if the rule has valid field values
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("invalid rule kind: %s", r.Kind)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("invalid rule severity: %s", r.Severity)
	}
	if utf8.RuneCountInString(r.Description) > MaxSnippetLength {
		return fmt.Errorf("description must be %d characters or less", MaxSnippetLength)
	}
	return nil
}

// Violation records one fired rule against one evaluated operation.
type Violation struct {
	ID          int64     `json:"id"`
	RuleID      string    `json:"rule_id"`
	Kind        RuleKind  `json:"kind"`
	Context     string    `json:"context"`
	Operation   string    `json:"operation"`
	Remediation string    `json:"remediation"`
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThresholdEventKind classifies growth governance events.
type ThresholdEventKind string

const (
	EventFileSizeViolation      ThresholdEventKind = "file_size_violation"
	EventFileCreated            ThresholdEventKind = "file_created"
	EventDuplicationDetected    ThresholdEventKind = "duplication_detected"
	EventTechnicalDebtThreshold ThresholdEventKind = "technical_debt_threshold"
	EventNavigationComplexity   ThresholdEventKind = "navigation_complexity"
	EventComplianceBelow        ThresholdEventKind = "compliance_below_threshold"
	EventPerformanceDegraded    ThresholdEventKind = "performance_degraded"
)

// AllThresholdEventKinds lists every event kind the monitor emits.
var AllThresholdEventKinds = []ThresholdEventKind{
	EventFileSizeViolation, EventFileCreated, EventDuplicationDetected,
	EventTechnicalDebtThreshold, EventNavigationComplexity,
	EventComplianceBelow, EventPerformanceDegraded,
}

// ThresholdEvent is an append-only record of a growth metric observation.
type ThresholdEvent struct {
	ID                int64              `json:"id"`
	Timestamp         time.Time          `json:"timestamp"`
	Kind              ThresholdEventKind `json:"kind"`
	FilePath          string             `json:"file_path"`
	ChangeType        string             `json:"change_type"`
	Severity          Severity           `json:"severity"`
	ThresholdViolated bool               `json:"threshold_violated"`
	CurrentValue      float64            `json:"current_value"`
	ThresholdValue    float64            `json:"threshold_value"`
	ResponseMs        int64              `json:"response_ms"`
}

// InstructionType is the keyword classification of a user prompt.
type InstructionType string

const (
	InstructionRead    InstructionType = "read"
	InstructionCreate  InstructionType = "create"
	InstructionEdit    InstructionType = "edit"
	InstructionSearch  InstructionType = "search"
	InstructionAnalyze InstructionType = "analyze"
	InstructionExecute InstructionType = "execute"
	InstructionGeneral InstructionType = "general"
)

// PerformanceTier buckets total instruction wall time.
type PerformanceTier string

const (
	TierFast     PerformanceTier = "fast"
	TierStandard PerformanceTier = "standard"
	TierComplex  PerformanceTier = "complex"
	TierCritical PerformanceTier = "critical"
)

// AllPerformanceTiers lists tiers from fastest to slowest.
var AllPerformanceTiers = []PerformanceTier{TierFast, TierStandard, TierComplex, TierCritical}

// TierFor maps a total execution time to its tier: <5s fast, <30s standard,
// <2m complex, else critical.
func TierFor(totalMs int64) PerformanceTier {
	switch {
	case totalMs < 5_000:
		return TierFast
	case totalMs < 30_000:
		return TierStandard
	case totalMs < 120_000:
		return TierComplex
	}
	return TierCritical
}

// ComplexityScore is 0.6·min(total/60s,1) + 0.4·min(tools/20,1).
func ComplexityScore(totalMs int64, toolCalls int) float64 {
	timePart := float64(totalMs) / 60_000
	if timePart > 1 {
		timePart = 1
	}
	if timePart < 0 {
		timePart = 0
	}
	toolPart := float64(toolCalls) / 20
	if toolPart > 1 {
		toolPart = 1
	}
	if toolPart < 0 {
		toolPart = 0
	}
	return 0.6*timePart + 0.4*toolPart
}

// InstructionTiming is the timing record for one prompt and its tool trace.
type InstructionTiming struct {
	SessionID           string          `json:"session_id"`
	InstructionID       string          `json:"instruction_id"`
	Type                InstructionType `json:"instruction_type"`
	Prompt              string          `json:"prompt,omitempty"`
	StartMs             int64           `json:"start_ms"`
	EndMs               int64           `json:"end_ms"`
	TotalMs             int64           `json:"total_execution_time_ms"`
	Success             bool            `json:"success"`
	Closed              bool            `json:"closed"`
	ToolCalls           int             `json:"tool_calls_count"`
	ToolTimeMs          int64           `json:"tool_execution_time_ms"`
	ComplexityScore     float64         `json:"complexity_score"`
	Tier                PerformanceTier `json:"performance_tier"`
	RealExecution       bool            `json:"real_execution"`
	Transparency        bool            `json:"transparency"`
	RealWorkRatio       float64         `json:"real_work_ratio"`
	EvidenceDocumented  bool            `json:"evidence_documented"`
}

// ToolTiming is the timing record for one Pre/Post tool pair.
type ToolTiming struct {
	ID                 int64  `json:"id"`
	InstructionID      string `json:"instruction_id"`
	SessionID          string `json:"session_id"`
	ToolName           string `json:"tool_name"`
	Index              int    `json:"tool_index"`
	Parameters         string `json:"parameters"`
	StartMs            int64  `json:"start_ms"`
	EndMs              int64  `json:"end_ms"`
	ExecutionMs        int64  `json:"execution_time_ms"`
	Success            bool   `json:"success"`
	RealExecution      bool   `json:"real_execution"`
	ResultSizeBytes    int64  `json:"result_size_bytes"`
	EvidenceDocumented bool   `json:"evidence_documented"`
	Details            string `json:"details,omitempty"`
}

// IsOpen reports whether the PostToolUse half has not arrived yet.
func (t *ToolTiming) IsOpen() bool {
	return t.EndMs == 0
}

// ComplianceMetric is one namespaced metric observation.
type ComplianceMetric struct {
	ID         int64     `json:"id"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Compliant  bool      `json:"compliant"`
	Details    string    `json:"details"`
	Timestamp  time.Time `json:"timestamp"`
}

// ViolationClass is the predicted near-term severity class.
type ViolationClass int

const (
	ClassNone ViolationClass = iota
	ClassMedium
	ClassHigh
	ClassCritical
)

// NumViolationClasses is the number of classes the predictor separates.
const NumViolationClasses = 4

// String returns the class label.
func (c ViolationClass) String() string {
	switch c {
	case ClassMedium:
		return "MEDIUM"
	case ClassHigh:
		return "HIGH"
	case ClassCritical:
		return "CRITICAL"
	}
	return "NONE"
}

// ClassForSeverity maps alert severities onto predictor labels; LOW alerts
// count as no violation.
func ClassForSeverity(s Severity) ViolationClass {
	switch s {
	case SeverityCritical:
		return ClassCritical
	case SeverityHigh:
		return ClassHigh
	case SeverityMedium:
		return ClassMedium
	}
	return ClassNone
}

// FeatureContribution is one feature's weight in a prediction.
type FeatureContribution struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
	Value      float64 `json:"value"`
}

// Prediction is one near-term violation forecast.
type Prediction struct {
	ID              string                `json:"id"`
	Timestamp       time.Time             `json:"timestamp"`
	Class           ViolationClass        `json:"-"`
	ClassLabel      string                `json:"predicted_violation"`
	Probability     float64               `json:"probability"`
	Confidence      float64               `json:"confidence"`
	RiskLevel       string                `json:"risk_level"`
	Features        []FeatureContribution `json:"contributing_features"`
	Recommendations []string              `json:"recommended_actions"`
	HorizonHours    int                   `json:"horizon_hours"`
	ModelName       string                `json:"model"`
}

// RiskLevelFor maps a max-probability to HIGH (>0.8), MEDIUM (>0.6) or LOW.
func RiskLevelFor(p float64) string {
	switch {
	case p > 0.8:
		return "HIGH"
	case p > 0.6:
		return "MEDIUM"
	}
	return "LOW"
}

// Alert is a severity-tagged observation used for predictor features and
// labels. Threshold events and violations both surface as alerts.
type Alert struct {
	Timestamp  time.Time `json:"timestamp"`
	Severity   Severity  `json:"severity"`
	Type       string    `json:"type"`
	ResponseMs int64     `json:"response_ms"`
}

// RuleStats summarizes the rule store over a window.
type RuleStats struct {
	TotalRules           int              `json:"total_rules"`
	ActiveRules          int              `json:"active_rules"`
	RulesByKind          map[RuleKind]int `json:"rules_by_kind"`
	TotalViolations      int              `json:"total_violations"`
	UnresolvedViolations int              `json:"unresolved_violations"`
	ViolationsBySeverity map[Severity]int `json:"violations_by_severity"`
	TopRules             []RuleCount      `json:"top_rules"`
	WindowHours          int              `json:"window_hours"`
}

// RuleCount pairs a rule with its violation count.
type RuleCount struct {
	RuleID      string   `json:"rule_id"`
	Kind        RuleKind `json:"kind"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
}
