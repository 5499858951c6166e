package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/types"
)

const governingDoc = `# Operating Principles

- The system MUST block root file creation attempts.
- BLOCKING: any commit without passing tests (Principle #104).
* **AUTOMATIC** real-time detection of command utilization gaps!
• MAXIMUM density optimization is required for every response.

Ordinary prose says will. Or must!
Zero-tolerance: simulated results are never reported as real.
`

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "PRINCIPLES.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExtract_Missing(t *testing.T) {
	_, err := NewExtractor().Extract(filepath.Join(t.TempDir(), "nope.md"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceMissing))
}

func TestExtract_Unreadable(t *testing.T) {
	// A directory opens fine but fails on read.
	_, err := NewExtractor().Extract(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnreadable))
}

func TestExtract_DocumentOrderAndIDs(t *testing.T) {
	got, err := NewExtractor().Extract(writeDoc(t, governingDoc))
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, "RULE_001_MUST", got[0].ID)
	assert.Equal(t, "RULE_002_BLOCKING", got[1].ID)
	assert.Equal(t, "RULE_003_AUTOMATIC", got[2].ID)
	assert.Equal(t, "RULE_004_MAXIMUM", got[3].ID)
	assert.Equal(t, "RULE_005_ZERO_TOLERANCE", got[4].ID)

	for _, r := range got {
		require.NoError(t, r.Validate())
		assert.True(t, r.Active)
		for _, trig := range r.Triggers {
			assert.True(t, Predicate(trig).IsValid(), trig)
		}
		for _, a := range r.Actions {
			assert.True(t, Action(a).IsValid(), a)
		}
	}
}

func TestExtract_Classification(t *testing.T) {
	got, err := NewExtractor().Extract(writeDoc(t, governingDoc))
	require.NoError(t, err)
	require.Len(t, got, 5)

	must := got[0]
	assert.Equal(t, "block root file creation attempts", must.Description)
	assert.Equal(t, types.SeverityLow, must.Severity)
	assert.Equal(t, []string{string(PredRootFileCreation)}, must.Triggers)
	assert.Equal(t, []string{string(ActionBlockExecution), string(ActionEnforceRequirement)}, must.Actions)
	assert.False(t, must.AutoRemediation)

	blocking := got[1]
	assert.Equal(t, types.SeverityHigh, blocking.Severity)
	assert.Equal(t, "#104", blocking.PrincipleRef)
	assert.Contains(t, blocking.Triggers, string(PredCommitOperationRequired))
	assert.Contains(t, blocking.Actions, string(ActionImmediateBlocking))

	auto := got[2]
	assert.Equal(t, types.SeverityMedium, auto.Severity)
	assert.True(t, auto.AutoRemediation)
	assert.Contains(t, auto.Triggers, string(PredCommandUtilizationBelow70))
	assert.Contains(t, auto.Actions, string(ActionAutomaticCorrection))

	maxRule := got[3]
	assert.Equal(t, types.SeverityCritical, maxRule.Severity)
	assert.Contains(t, maxRule.Triggers, string(PredDensityOptimization))

	zt := got[4]
	assert.Equal(t, types.KindZeroTolerance, zt.Kind)
	assert.Equal(t, []string{string(PredZeroToleranceCondition)}, zt.Triggers)
	assert.Equal(t, []string{string(ActionLogViolation)}, zt.Actions)
}

func TestExtract_MultipleKindsSameSentence(t *testing.T) {
	got, err := NewExtractor().ExtractReader(strings.NewReader(
		"Agents MUST run the MANDATORY review checklist before merge.\n"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.KindMust, got[0].Kind)
	assert.Equal(t, types.KindMandatory, got[1].Kind)
	assert.Equal(t, types.SeverityHigh, got[1].Severity)
}

func TestExtract_Idempotent(t *testing.T) {
	path := writeDoc(t, governingDoc)
	e := NewExtractor()

	first, err := e.Extract(path)
	require.NoError(t, err)
	second, err := e.Extract(path)
	require.NoError(t, err)

	pairs := func(rs []*types.Rule) map[string]bool {
		m := make(map[string]bool)
		for _, r := range rs {
			m[string(r.Kind)+"|"+r.Description] = true
		}
		return m
	}
	assert.Equal(t, pairs(first), pairs(second))
}

func TestExtract_TruncatesDescription(t *testing.T) {
	long := "MUST " + strings.Repeat("a", 900) + "."
	got, err := NewExtractor().ExtractReader(strings.NewReader(long))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Description, types.MaxSnippetLength)
}

func TestExtract_MalformedProse(t *testing.T) {
	got, err := NewExtractor().ExtractReader(strings.NewReader("MUST\n\x00\xff WILL:\n***\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		text string
		want types.Severity
	}{
		{"absolute limit", types.SeverityCritical},
		{"critical and blocking", types.SeverityCritical},
		{"mandatory review", types.SeverityHigh},
		{"enforcement hook", types.SeverityMedium},
		{"nice to have", types.SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.text), tt.text)
	}
}
