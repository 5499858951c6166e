// Package rules extracts declarative enforcement rules from the governing
// markdown document and defines the closed predicate and action vocabulary
// those rules are evaluated with.
package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/steveyegge/governor/internal/types"
)

var (
	// ErrSourceMissing is returned when the governing document does not exist.
	ErrSourceMissing = errors.New("governing document missing")
	// ErrSourceUnreadable is returned on any other I/O failure.
	ErrSourceUnreadable = errors.New("governing document unreadable")
)

// minBodyLength drops keyword hits with no meaningful sentence body.
const minBodyLength = 8

// kindPatterns capture the sentence body following each keyword up to the
// first sentence terminator or end of line.
var kindPatterns = map[types.RuleKind]*regexp.Regexp{
	types.KindWill:          regexp.MustCompile(`(?i)\bwill\b[:\s]+([^.!?\n]+)`),
	types.KindMust:          regexp.MustCompile(`(?i)\bmust\b[:\s]+([^.!?\n]+)`),
	types.KindDebe:          regexp.MustCompile(`(?i)\bdebe\b[:\s]+([^.!?\n]+)`),
	types.KindBlocking:      regexp.MustCompile(`(?i)\bblocking\b[:\s]+([^.!?\n]+)`),
	types.KindCritical:      regexp.MustCompile(`(?i)\bcritical\b[:\s]+([^.!?\n]+)`),
	types.KindMaximum:       regexp.MustCompile(`(?i)\bmaximum\b[:\s]+([^.!?\n]+)`),
	types.KindMandatory:     regexp.MustCompile(`(?i)\bmandatory\b[:\s]+([^.!?\n]+)`),
	types.KindAutomatic:     regexp.MustCompile(`(?i)\bautomatic\b[:\s]+([^.!?\n]+)`),
	types.KindZeroTolerance: regexp.MustCompile(`(?i)\bzero[\s_-]tolerance\b[:\s]+([^.!?\n]+)`),
}

var principleRefPattern = regexp.MustCompile(`(?i)\(\s*principle\s*#\s*(\d+)\s*\)`)

// Extractor parses a governing document into rules.
type Extractor struct {
	now func() time.Time
}

// NewExtractor creates an extractor stamping rules with the wall clock.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract parses the file at path. Rules come back in document order.
func (e *Extractor) Extract(path string) ([]*types.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	defer func() { _ = f.Close() }()

	rules, err := e.ExtractReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, path, err)
	}
	return rules, nil
}

// ExtractReader parses a governing document from r.
func (e *Extractor) ExtractReader(r io.Reader) ([]*types.Rule, error) {
	now := e.now()
	var rules []*types.Rule
	seq := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := normalizeLine(scanner.Text())
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, kind := range types.AllRuleKinds {
			for _, m := range kindPatterns[kind].FindAllStringSubmatch(line, -1) {
				body := strings.TrimSpace(m[1])
				if len(body) < minBodyLength {
					continue
				}
				seq++
				rules = append(rules, buildRule(seq, kind, body, strings.ToLower(m[0]), now))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// buildRule classifies over the whole match so the keyword itself counts
// toward severity and actions; the description keeps only the body.
func buildRule(seq int, kind types.RuleKind, body, lower string, now time.Time) *types.Rule {
	rule := &types.Rule{
		ID:              fmt.Sprintf("RULE_%03d_%s", seq, kind),
		Kind:            kind,
		Severity:        SeverityFor(lower),
		Description:     types.Snippet(body),
		Triggers:        TriggersFor(kind, lower),
		Actions:         ActionsFor(kind, lower),
		AutoRemediation: autoRemediation(lower),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if m := principleRefPattern.FindStringSubmatch(body); m != nil {
		rule.PrincipleRef = "#" + m[1]
	}
	return rule
}

// SeverityFor maps a lower-cased rule body to a severity; first match wins.
func SeverityFor(lower string) types.Severity {
	switch {
	case containsAny(lower, []string{"maximum", "absolute", "critical"}):
		return types.SeverityCritical
	case containsAny(lower, []string{"blocking", "mandatory"}):
		return types.SeverityHigh
	case containsAny(lower, []string{"required", "automatic", "enforcement"}):
		return types.SeverityMedium
	}
	return types.SeverityLow
}

// TriggersFor derives trigger predicates from the rule body.
func TriggersFor(kind types.RuleKind, lower string) []string {
	var out []string
	add := func(p Predicate) { out = append(out, string(p)) }

	if strings.Contains(lower, "command utilization") {
		add(PredCommandUtilizationBelow70)
	}
	if strings.Contains(lower, "complexity") {
		add(PredComplexityThreshold)
	}
	if strings.Contains(lower, "root") && strings.Contains(lower, "file") {
		add(PredRootFileCreation)
	}
	if strings.Contains(lower, "error") {
		add(PredErrorDetected)
	}
	if strings.Contains(lower, "density") && strings.Contains(lower, "optimization") {
		add(PredDensityOptimization)
	}
	if strings.Contains(lower, "parallel") && strings.Contains(lower, "task") {
		add(PredParallelTaskRequirement)
	}
	if strings.Contains(lower, "commit") {
		add(PredCommitOperationRequired)
	}
	if strings.Contains(lower, "tdd") {
		add(PredTDDViolation)
	}
	if len(out) == 0 {
		add(ConditionPredicate(kind))
	}
	return out
}

// ActionsFor derives blocking actions from the rule body plus the kind default.
func ActionsFor(kind types.RuleKind, lower string) []string {
	var out []string
	add := func(a Action) { out = append(out, string(a)) }

	if strings.Contains(lower, "block") {
		add(ActionBlockExecution)
	}
	if strings.Contains(lower, "halt") || strings.Contains(lower, "stop") {
		add(ActionHaltOperation)
	}
	if strings.Contains(lower, "redirect") {
		add(ActionRedirectToCompliance)
	}
	if strings.Contains(lower, "activate") {
		add(ActionActivateProtocol)
	}
	if strings.Contains(lower, "enforce") {
		add(ActionEnforceCompliance)
	}
	if strings.Contains(lower, "prevent") {
		add(ActionPreventViolation)
	}

	switch kind {
	case types.KindBlocking, types.KindCritical, types.KindMaximum:
		add(ActionImmediateBlocking)
	case types.KindMandatory, types.KindMust, types.KindDebe:
		add(ActionEnforceRequirement)
	case types.KindWill, types.KindAutomatic:
		add(ActionAutomaticCorrection)
	}
	if len(out) == 0 {
		add(ActionLogViolation)
	}
	return out
}

func autoRemediation(lower string) bool {
	return containsAny(lower, []string{"automatic", "auto", "immediate", "real-time"})
}

// normalizeLine replaces markdown emphasis and non-ASCII bullet glyphs with
// spaces so they never split or prefix a keyword.
func normalizeLine(line string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '*', '`':
			return ' '
		}
		if r > unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ' '
		}
		return r
	}, line)
}
