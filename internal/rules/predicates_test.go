package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/types"
)

func TestPredicate_EveryKindHasEvaluator(t *testing.T) {
	for _, kind := range types.AllRuleKinds {
		assert.True(t, ConditionPredicate(kind).IsValid(), kind)
	}
}

func TestParsePredicate_RejectsUnknown(t *testing.T) {
	_, err := ParsePredicate("root_file_creation_atempt")
	require.Error(t, err)

	p, err := ParsePredicate("root_file_creation_attempt")
	require.NoError(t, err)
	assert.Equal(t, PredRootFileCreation, p)

	_, err = Predicate("bogus").Evaluate("", "")
	assert.Error(t, err)
}

func TestPredicate_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		pred      Predicate
		context   string
		operation string
		want      bool
	}{
		{"utilization fires", PredCommandUtilizationBelow70, "only using one command", "for a comprehensive audit", true},
		{"utilization needs complexity", PredCommandUtilizationBelow70, "single command", "list files", false},
		{"complexity needs two", PredComplexityThreshold, "comprehensive", "plan", false},
		{"complexity fires", PredComplexityThreshold, "systematic and extensive", "review", true},
		{"root md", PredRootFileCreation, "", "create file README.md in root", true},
		{"root txt suffix", PredRootFileCreation, "", "notes.txt", true},
		{"root ignores context", PredRootFileCreation, "write file to root", "ls -la", false},
		{"error", PredErrorDetected, "build FAILED", "", true},
		{"density", PredDensityOptimization, "density", "verbose output", true},
		{"density alone", PredDensityOptimization, "density", "tight output", false},
		{"parallel", PredParallelTaskRequirement, "multiple tasks", "run them one at a time", true},
		{"commit", PredCommitOperationRequired, "", "git commit -m x", true},
		{"tdd without tests", PredTDDViolation, "implement parser", "", true},
		{"tdd with tests", PredTDDViolation, "implement parser", "with a failing test first", false},
		{"token fallback", PredMustCondition, "", "a must-have", true},
		{"token fallback miss", PredBlockingCondition, "", "nothing here", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pred.Evaluate(tt.context, tt.operation)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAction_IsValid(t *testing.T) {
	assert.True(t, ActionImmediateBlocking.IsValid())
	assert.False(t, Action("shrug").IsValid())
}
