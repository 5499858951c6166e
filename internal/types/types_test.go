package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	// Counts runes, not bytes.
	assert.Equal(t, "héé", Truncate("héééé", 3))
	assert.Len(t, []rune(Snippet(strings.Repeat("x", MaxSnippetLength+10))), MaxSnippetLength)
}

func TestRuleKind(t *testing.T) {
	for _, k := range AllRuleKinds {
		assert.True(t, k.IsValid(), k)
	}
	assert.False(t, RuleKind("SHOULD").IsValid())

	assert.True(t, KindBlocking.IsHardBlocking())
	assert.True(t, KindMaximum.IsHardBlocking())
	assert.True(t, KindCritical.IsHardBlocking())
	assert.False(t, KindMust.IsHardBlocking())
	assert.False(t, KindWill.IsHardBlocking())
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		in       string
		want     Severity
		rank     int
		blocking bool
	}{
		{"critical", SeverityCritical, 3, true},
		{" High ", SeverityHigh, 2, true},
		{"MEDIUM", SeverityMedium, 1, false},
		{"low", SeverityLow, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.rank, got.Rank())
			assert.Equal(t, tt.blocking, got.IsBlocking())
		})
	}

	_, err := ParseSeverity("urgent")
	assert.Error(t, err)
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{ID: "RULE_001_MUST", Kind: KindMust, Severity: SeverityHigh, Description: "Tests must pass"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr string
	}{
		{"missing id", func(r *Rule) { r.ID = "" }, "rule id is required"},
		{"bad kind", func(r *Rule) { r.Kind = "SHOULD" }, "invalid rule kind"},
		{"bad severity", func(r *Rule) { r.Severity = "" }, "invalid rule severity"},
		{"long description", func(r *Rule) { r.Description = strings.Repeat("d", MaxSnippetLength+1) }, "characters or less"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierFast, TierFor(0))
	assert.Equal(t, TierFast, TierFor(4_999))
	assert.Equal(t, TierStandard, TierFor(5_000))
	assert.Equal(t, TierComplex, TierFor(30_000))
	assert.Equal(t, TierCritical, TierFor(120_000))
}

func TestComplexityScore(t *testing.T) {
	assert.InDelta(t, 0.0, ComplexityScore(0, 0), 1e-9)
	assert.InDelta(t, 0.3+0.2, ComplexityScore(30_000, 10), 1e-9)
	assert.InDelta(t, 1.0, ComplexityScore(10*60_000, 100), 1e-9, "both parts are capped")
	assert.InDelta(t, 0.0, ComplexityScore(-5, -1), 1e-9)
}

func TestViolationClass(t *testing.T) {
	assert.Equal(t, "NONE", ClassNone.String())
	assert.Equal(t, "CRITICAL", ClassCritical.String())
	assert.Equal(t, ClassHigh, ClassForSeverity(SeverityHigh))
	assert.Equal(t, ClassMedium, ClassForSeverity(SeverityMedium))
	assert.Equal(t, ClassNone, ClassForSeverity(SeverityLow))
}

func TestRiskLevelFor(t *testing.T) {
	assert.Equal(t, "HIGH", RiskLevelFor(0.81))
	assert.Equal(t, "MEDIUM", RiskLevelFor(0.8))
	assert.Equal(t, "MEDIUM", RiskLevelFor(0.61))
	assert.Equal(t, "LOW", RiskLevelFor(0.6))
}

func TestHookEventName(t *testing.T) {
	assert.True(t, HookStop.IsValid())
	assert.False(t, HookEventName("SessionStart").IsValid())
	assert.True(t, HookPreToolUse.IsToolEvent())
	assert.False(t, HookUserPromptSubmit.IsToolEvent())
}

func TestToolTimingIsOpen(t *testing.T) {
	tt := &ToolTiming{StartMs: 10}
	assert.True(t, tt.IsOpen())
	tt.EndMs = 20
	assert.False(t, tt.IsOpen())
}
