package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/steveyegge/governor/internal/types"
)

// Predicate is a named trigger test over (context, operation) text.
// The set is closed: every tag has exactly one evaluator in evaluators.
type Predicate string

const (
	PredCommandUtilizationBelow70 Predicate = "command_utilization_below_70_percent"
	PredComplexityThreshold       Predicate = "complexity_threshold_exceeded"
	PredRootFileCreation          Predicate = "root_file_creation_attempt"
	PredErrorDetected             Predicate = "error_detected"
	PredDensityOptimization       Predicate = "density_optimization_violation"
	PredParallelTaskRequirement   Predicate = "parallel_task_requirement_detected"
	PredCommitOperationRequired   Predicate = "commit_operation_required"
	PredTDDViolation              Predicate = "tdd_violation_detected"

	PredWillCondition          Predicate = "will_condition_detected"
	PredMustCondition          Predicate = "must_condition_detected"
	PredDebeCondition          Predicate = "debe_condition_detected"
	PredBlockingCondition      Predicate = "blocking_condition_detected"
	PredCriticalCondition      Predicate = "critical_condition_detected"
	PredMaximumCondition       Predicate = "maximum_condition_detected"
	PredMandatoryCondition     Predicate = "mandatory_condition_detected"
	PredAutomaticCondition     Predicate = "automatic_condition_detected"
	PredZeroToleranceCondition Predicate = "zero_tolerance_condition_detected"
)

// ConditionPredicate returns the fallback predicate for a rule kind.
func ConditionPredicate(kind types.RuleKind) Predicate {
	return Predicate(strings.ToLower(string(kind)) + "_condition_detected")
}

// Action is a named remediation step attached to a fired rule.
type Action string

const (
	ActionBlockExecution       Action = "block_execution"
	ActionHaltOperation        Action = "halt_operation"
	ActionRedirectToCompliance Action = "redirect_to_compliance"
	ActionActivateProtocol     Action = "activate_compliance_protocol"
	ActionEnforceCompliance    Action = "enforce_compliance"
	ActionPreventViolation     Action = "prevent_violation"
	ActionImmediateBlocking    Action = "immediate_blocking"
	ActionEnforceRequirement   Action = "enforce_requirement"
	ActionAutomaticCorrection  Action = "automatic_correction"
	ActionLogViolation         Action = "log_violation"
)

// IsValid checks if the action tag is part of the vocabulary.
func (a Action) IsValid() bool {
	switch a {
	case ActionBlockExecution, ActionHaltOperation, ActionRedirectToCompliance,
		ActionActivateProtocol, ActionEnforceCompliance, ActionPreventViolation,
		ActionImmediateBlocking, ActionEnforceRequirement, ActionAutomaticCorrection,
		ActionLogViolation:
		return true
	}
	return false
}

// evaluator tests one predicate. text is the lower-cased concatenation of
// context and operation; operation is passed through unchanged.
type evaluator func(text, operation string) (bool, error)

var evaluators = map[Predicate]evaluator{
	PredCommandUtilizationBelow70: evalCommandUtilization,
	PredComplexityThreshold:       evalComplexityThreshold,
	PredRootFileCreation:          evalRootFileCreation,
	PredErrorDetected:             anyKeyword("error", "exception", "failed", "failure", "traceback"),
	PredDensityOptimization:       evalDensityOptimization,
	PredParallelTaskRequirement:   evalParallelTask,
	PredCommitOperationRequired:   anyKeyword("git commit", "commit"),
	PredTDDViolation:              evalTDDViolation,

	PredWillCondition:          tokenFallback(PredWillCondition),
	PredMustCondition:          tokenFallback(PredMustCondition),
	PredDebeCondition:          tokenFallback(PredDebeCondition),
	PredBlockingCondition:      tokenFallback(PredBlockingCondition),
	PredCriticalCondition:      tokenFallback(PredCriticalCondition),
	PredMaximumCondition:       tokenFallback(PredMaximumCondition),
	PredMandatoryCondition:     tokenFallback(PredMandatoryCondition),
	PredAutomaticCondition:     tokenFallback(PredAutomaticCondition),
	PredZeroToleranceCondition: tokenFallback(PredZeroToleranceCondition),
}

// IsValid checks if the predicate tag has an evaluator.
func (p Predicate) IsValid() bool {
	_, ok := evaluators[p]
	return ok
}

// ParsePredicate validates a stored trigger string.
func ParsePredicate(s string) (Predicate, error) {
	p := Predicate(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown predicate %q", s)
	}
	return p, nil
}

// Evaluate runs the predicate against context and operation.
func (p Predicate) Evaluate(context, operation string) (bool, error) {
	eval, ok := evaluators[p]
	if !ok {
		return false, fmt.Errorf("unknown predicate %q", p)
	}
	text := strings.ToLower(context + " " + operation)
	return eval(text, operation)
}

var (
	singleCommandPhrases = []string{"single command", "one command", "only using"}
	complexityWords      = []string{"complex", "multiple", "various", "several", "comprehensive"}

	complexityIndicators = []string{
		"multiple steps", "complex analysis", "comprehensive", "extensive",
		"multi-domain", "cross-functional", "systematic", "elaborate",
	}

	rootFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)create.*\.md.*root`),
		regexp.MustCompile(`(?i)write.*file.*root`),
		regexp.MustCompile(`(?i)new.*file.*root`),
		regexp.MustCompile(`(?i)\.md$`),
		regexp.MustCompile(`(?i)README\.md`),
		regexp.MustCompile(`(?i)\.txt$`),
	}

	multiTaskPhrases  = []string{"multiple tasks", "several tasks", "parallel", "multi-domain", "multiple domains", "concurrently"}
	sequentialPhrases = []string{"sequential", "one at a time", "one by one", "serially"}

	implementationWords = []string{"implement", "add feature", "write code", "new function", "refactor"}
	testWords           = []string{"test", "tdd", "spec"}

	densityWaste = []string{"verbose", "redundant", "bloat", "duplicate", "filler"}
)

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func countContained(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, p) {
			n++
		}
	}
	return n
}

func anyKeyword(keywords ...string) evaluator {
	return func(text, _ string) (bool, error) {
		return containsAny(text, keywords), nil
	}
}

func evalCommandUtilization(text, _ string) (bool, error) {
	return containsAny(text, singleCommandPhrases) && containsAny(text, complexityWords), nil
}

func evalComplexityThreshold(text, _ string) (bool, error) {
	return countContained(text, complexityIndicators) >= 2, nil
}

func evalRootFileCreation(_, operation string) (bool, error) {
	op := strings.TrimSpace(operation)
	for _, re := range rootFilePatterns {
		if re.MatchString(op) {
			return true, nil
		}
	}
	return false, nil
}

func evalDensityOptimization(text, _ string) (bool, error) {
	return strings.Contains(text, "density") && containsAny(text, densityWaste), nil
}

func evalParallelTask(text, _ string) (bool, error) {
	return containsAny(text, multiTaskPhrases) && containsAny(text, sequentialPhrases), nil
}

func evalTDDViolation(text, _ string) (bool, error) {
	return containsAny(text, implementationWords) && !containsAny(text, testWords), nil
}

// tokenFallback splits the predicate name on '_' and fires when any token
// appears in the text.
func tokenFallback(p Predicate) evaluator {
	var tokens []string
	for _, tok := range strings.Split(string(p), "_") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return func(text, _ string) (bool, error) {
		return containsAny(text, tokens), nil
	}
}
