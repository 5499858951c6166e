// Package compliance validates the P55 (real execution) and P56
// (transparency and evidence) protocols against aggregated timing rates.
package compliance

import (
	"fmt"
	"math"
)

// Protocol names.
const (
	ProtocolP55 = "P55"
	ProtocolP56 = "P56"
)

// Check names double as metric-row suffixes.
const (
	CheckRealExecutionRate         = "real_execution_rate"
	CheckInstructionCompletionRate = "instruction_completion_rate"
	CheckToolSuccessRate           = "tool_success_rate"
	CheckRealToolExecutionRate     = "real_tool_execution_rate"
	CheckTransparencyRate          = "transparency_rate"
	CheckEvidenceDocumentationRate = "evidence_documentation_rate"
	CheckVisualAnnouncementRate    = "visual_announcement_rate"
	CheckAvgToolResponseMs         = "avg_tool_response_ms"
)

// Measurements are the window rates the protocols are judged on. Rates are
// fractions in [0,1].
type Measurements struct {
	Instructions int `json:"instructions"`
	ToolCalls    int `json:"tool_calls"`

	RealExecutionRate         float64 `json:"real_execution_rate"`
	InstructionCompletionRate float64 `json:"instruction_completion_rate"`
	ToolSuccessRate           float64 `json:"tool_success_rate"`
	RealToolExecutionRate     float64 `json:"real_tool_execution_rate"`

	TransparencyRate       float64 `json:"transparency_rate"`
	EvidenceRate           float64 `json:"evidence_documentation_rate"`
	VisualAnnouncementRate float64 `json:"visual_announcement_rate"`
	AvgToolResponseMs      float64 `json:"avg_tool_response_ms"`
}

// Thresholds holds the pass marks. Rates are fractions.
type Thresholds struct {
	RealExecution         float64 `yaml:"real_execution"`
	InstructionCompletion float64 `yaml:"instruction_completion"`
	ToolSuccess           float64 `yaml:"tool_success"`
	RealToolExecution     float64 `yaml:"real_tool_execution"`
	Transparency          float64 `yaml:"transparency"`
	Evidence              float64 `yaml:"evidence"`
	VisualAnnouncement    float64 `yaml:"visual_announcement"`
	MaxAvgToolResponseMs  float64 `yaml:"max_avg_tool_response_ms"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RealExecution:         0.95,
		InstructionCompletion: 0.877,
		ToolSuccess:           0.877,
		RealToolExecution:     0.99,
		Transparency:          0.95,
		Evidence:              0.95,
		VisualAnnouncement:    1.0,
		MaxAvgToolResponseMs:  50,
	}
}

// Validate checks that rate thresholds are fractions.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"real_execution":         t.RealExecution,
		"instruction_completion": t.InstructionCompletion,
		"tool_success":           t.ToolSuccess,
		"real_tool_execution":    t.RealToolExecution,
		"transparency":           t.Transparency,
		"evidence":               t.Evidence,
		"visual_announcement":    t.VisualAnnouncement,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s threshold must be between 0 and 1, got %v", name, v)
		}
	}
	if t.MaxAvgToolResponseMs <= 0 {
		return fmt.Errorf("max_avg_tool_response_ms must be positive, got %v", t.MaxAvgToolResponseMs)
	}
	return nil
}

// Check is one requirement and its outcome.
type Check struct {
	Name        string  `json:"name"`
	Protocol    string  `json:"protocol"`
	Requirement string  `json:"requirement"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Unit        string  `json:"unit"`
	Passed      bool    `json:"passed"`
	upperBound  bool
}

// Violation renders a failed check, e.g. "real_execution_rate: 93.00% < 95.00%".
func (c Check) Violation() string {
	if c.Unit == "%" {
		return fmt.Sprintf("%s: %.2f%% < %.2f%%", c.Name, c.Value*100, c.Threshold*100)
	}
	op := "<"
	if c.upperBound {
		op = ">"
	}
	return fmt.Sprintf("%s: %.2f%s %s %.2f%s", c.Name, c.Value, c.Unit, op, c.Threshold, c.Unit)
}

// ProtocolResult is the outcome of one protocol.
type ProtocolResult struct {
	Protocol  string  `json:"protocol"`
	Compliant bool    `json:"compliant"`
	Score     float64 `json:"score_percent"`
	Checks    []Check `json:"checks"`
}

// Report is the combined validation outcome.
type Report struct {
	P55           ProtocolResult `json:"p55"`
	P56           ProtocolResult `json:"p56"`
	CombinedScore float64        `json:"combined_score_percent"`
	Compliant     bool           `json:"compliant"`
	Violations    []string       `json:"violations"`
	Measurements  Measurements   `json:"measurements"`
	VisualSource  string         `json:"visual_announcement_source"`
}

// Evaluate judges both protocols. Visual-announcement coverage is not
// instrumented and is taken as complete unless the caller measured it.
func Evaluate(m Measurements, th Thresholds) *Report {
	visualSource := "measured"
	if m.VisualAnnouncementRate == 0 {
		m.VisualAnnouncementRate = 1
		visualSource = "assumed"
	}

	rate := func(name, protocol, requirement string, value, threshold float64) Check {
		return Check{
			Name: name, Protocol: protocol, Requirement: requirement,
			Value: value, Threshold: threshold, Unit: "%",
			Passed: value >= threshold-1e-9,
		}
	}
	p55 := protocol(ProtocolP55, []Check{
		rate(CheckRealExecutionRate, ProtocolP55, "instructions must execute real work", m.RealExecutionRate, th.RealExecution),
		rate(CheckInstructionCompletionRate, ProtocolP55, "instructions must complete successfully", m.InstructionCompletionRate, th.InstructionCompletion),
		rate(CheckToolSuccessRate, ProtocolP55, "tool calls must succeed", m.ToolSuccessRate, th.ToolSuccess),
		rate(CheckRealToolExecutionRate, ProtocolP55, "tool calls must not be simulated", m.RealToolExecutionRate, th.RealToolExecution),
	})
	p56 := protocol(ProtocolP56, []Check{
		rate(CheckTransparencyRate, ProtocolP56, "tool calls must be announced before they run", m.TransparencyRate, th.Transparency),
		rate(CheckEvidenceDocumentationRate, ProtocolP56, "tool results must be documented", m.EvidenceRate, th.Evidence),
		rate(CheckVisualAnnouncementRate, ProtocolP56, "every execution must be visually announced", m.VisualAnnouncementRate, th.VisualAnnouncement),
		{
			Name: CheckAvgToolResponseMs, Protocol: ProtocolP56, Requirement: "tool responses must be fast on average",
			Value: m.AvgToolResponseMs, Threshold: th.MaxAvgToolResponseMs, Unit: "ms",
			Passed: m.AvgToolResponseMs <= th.MaxAvgToolResponseMs, upperBound: true,
		},
	})

	r := &Report{
		P55:           p55,
		P56:           p56,
		CombinedScore: (p55.Score + p56.Score) / 2,
		Compliant:     p55.Compliant && p56.Compliant,
		Violations:    []string{},
		Measurements:  m,
		VisualSource:  visualSource,
	}
	for _, c := range append(append([]Check(nil), p55.Checks...), p56.Checks...) {
		if !c.Passed {
			r.Violations = append(r.Violations, c.Violation())
		}
	}
	return r
}

func protocol(name string, checks []Check) ProtocolResult {
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	score := 100.0
	if len(checks) > 0 {
		score = math.Round(float64(passed)/float64(len(checks))*10000) / 100
	}
	return ProtocolResult{
		Protocol:  name,
		Compliant: passed == len(checks),
		Score:     score,
		Checks:    checks,
	}
}

// ExitCode is 2 when any protocol fails, else 0.
func (r *Report) ExitCode() int {
	if r.Compliant {
		return 0
	}
	return 2
}
