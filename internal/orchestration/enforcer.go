// Package orchestration decides whether a set of commands used for an
// objective meets the multi-command utilization and parallelism expectations.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// Built-in rule ids. The enforcer upserts these on construction so every
// violation it records references an active rule.
const (
	RuleUtilization   = "ORCH_001_UTILIZATION"
	RuleParallel      = "ORCH_002_PARALLEL"
	RuleSingleCommand = "ORCH_003_SINGLE_COMMAND"
)

const (
	defaultUtilizationFloor = 0.70
	minParallelCommands     = 3
)

// DefaultAvailableCommands is the workflow-ordered command set used when
// none is configured.
var DefaultAvailableCommands = []string{
	"/analyze", "/research", "/plan", "/execute", "/test", "/document", "/review", "/optimize",
}

// DefaultComplexKeywords mark an objective as complex.
var DefaultComplexKeywords = []string{
	"comprehensive", "systematic", "multi-domain", "extensive", "complex",
	"cross-functional", "end-to-end", "full audit",
}

// DefaultMultiTaskKeywords mark an objective as spanning several tasks.
var DefaultMultiTaskKeywords = []string{
	"multiple tasks", "several tasks", "multi-domain", "multiple domains",
	"parallel", "and also", "various areas",
}

type Config struct {
	Store  storage.Storage
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Optional with defaults.
	AvailableCommands []string
	UtilizationFloor  float64
	ComplexKeywords   []string
	MultiTaskKeywords []string
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.AvailableCommands) == 0 {
		c.AvailableCommands = DefaultAvailableCommands
	}
	if c.UtilizationFloor == 0 {
		c.UtilizationFloor = defaultUtilizationFloor
	}
	if c.UtilizationFloor < 0 || c.UtilizationFloor > 1 {
		return errors.New("utilization floor must be in [0,1]")
	}
	if len(c.ComplexKeywords) == 0 {
		c.ComplexKeywords = DefaultComplexKeywords
	}
	if len(c.MultiTaskKeywords) == 0 {
		c.MultiTaskKeywords = DefaultMultiTaskKeywords
	}
	return nil
}

// Violation is one unmet orchestration expectation.
type Violation struct {
	RuleID   string         `json:"rule_id"`
	Severity types.Severity `json:"severity"`
	Blocking bool           `json:"blocking"`
	Message  string         `json:"message"`
}

// Result is the outcome of one Evaluate.
type Result struct {
	Compliant   bool        `json:"compliant"`
	Violation   *Violation  `json:"violation,omitempty"`
	Violations  []Violation `json:"violations,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Utilization float64     `json:"utilization"`
	Complex     bool        `json:"complex"`
	MultiTask   bool        `json:"multi_task"`
}

type Enforcer struct {
	cfg       Config
	log       *slog.Logger
	available map[string]bool
	rules     map[string]*types.Rule
}

// builtinRules have no triggers so the principle engine never fires them;
// they exist to anchor orchestration violations.
func builtinRules() []*types.Rule {
	return []*types.Rule{
		{
			ID: RuleUtilization, Kind: types.KindMust, Severity: types.SeverityMedium,
			Description: "Complex objectives must use at least the configured share of available commands",
			Actions:     []string{"enforce_requirement"}, Active: true,
		},
		{
			ID: RuleParallel, Kind: types.KindMandatory, Severity: types.SeverityHigh,
			Description: "Objectives spanning multiple tasks or domains must use at least three commands",
			Actions:     []string{"enforce_requirement", "redirect_to_compliance"}, Active: true,
		},
		{
			ID: RuleSingleCommand, Kind: types.KindBlocking, Severity: types.SeverityHigh,
			Description: "A complex objective must not be handled with a single command",
			Actions:     []string{"block_execution", "immediate_blocking"}, Active: true,
		},
	}
}

// NewEnforcer validates cfg and upserts the built-in orchestration rules.
func NewEnforcer(ctx context.Context, cfg Config) (*Enforcer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e := &Enforcer{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "orchestration"),
		available: make(map[string]bool, len(cfg.AvailableCommands)),
		rules:     make(map[string]*types.Rule),
	}
	for _, c := range cfg.AvailableCommands {
		e.available[normalizeCommand(c)] = true
	}
	for _, r := range builtinRules() {
		if err := cfg.Store.UpsertRule(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", r.ID, err)
		}
		e.rules[r.ID] = r
	}
	return e, nil
}

// Evaluate checks the commands used for an objective.
func (e *Enforcer) Evaluate(ctx context.Context, objective string, commands []string) (*Result, error) {
	lower := strings.ToLower(objective)
	used := distinctCommands(commands)

	res := &Result{
		Complex:     containsAny(lower, e.cfg.ComplexKeywords),
		MultiTask:   containsAny(lower, e.cfg.MultiTaskKeywords),
		Utilization: e.utilization(used),
	}

	if res.Complex && res.Utilization < e.cfg.UtilizationFloor {
		res.Violations = append(res.Violations, Violation{
			RuleID:   RuleUtilization,
			Severity: types.SeverityMedium,
			Message: fmt.Sprintf("command utilization %.0f%% below %.0f%% for a complex objective",
				res.Utilization*100, e.cfg.UtilizationFloor*100),
		})
	}
	if res.MultiTask && len(used) < minParallelCommands {
		res.Violations = append(res.Violations, Violation{
			RuleID:   RuleParallel,
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("objective spans multiple tasks but only %d command(s) used; at least %d expected", len(used), minParallelCommands),
		})
	}
	if res.Complex && len(used) <= 1 {
		res.Violations = append(res.Violations, Violation{
			RuleID:   RuleSingleCommand,
			Severity: types.SeverityHigh,
			Blocking: true,
			Message:  "complex objective attempted with a single command",
		})
	}

	res.Compliant = len(res.Violations) == 0
	if res.Compliant {
		return res, nil
	}

	res.Violation = mostSevere(res.Violations)
	res.Suggestions = e.suggestions(used, res.MultiTask)

	now := e.cfg.Clock.Now()
	for _, v := range res.Violations {
		metrics.OrchestrationViolations.WithLabelValues(v.RuleID).Inc()
		rec := &types.Violation{
			RuleID:      v.RuleID,
			Kind:        e.rules[v.RuleID].Kind,
			Context:     objective,
			Operation:   strings.Join(commands, ","),
			Remediation: strings.Join(e.rules[v.RuleID].Actions, ","),
			CreatedAt:   now,
		}
		err := storage.WriteWithRetry(ctx, e.log, "orchestration violation", func() error {
			_, err := e.cfg.Store.AppendViolation(ctx, rec)
			return err
		})
		if err != nil {
			metrics.StoreWriteDrops.WithLabelValues("violation").Inc()
		}
	}
	return res, nil
}

// AvailableCommands returns the configured command set in workflow order.
func (e *Enforcer) AvailableCommands() []string {
	return append([]string(nil), e.cfg.AvailableCommands...)
}

func (e *Enforcer) utilization(used []string) float64 {
	if len(e.cfg.AvailableCommands) == 0 {
		return 1
	}
	u := float64(len(used)) / float64(len(e.cfg.AvailableCommands))
	if u > 1 {
		u = 1
	}
	return u
}

// suggestions names each missing command relative to the next command in
// workflow order.
func (e *Enforcer) suggestions(used []string, multiTask bool) []string {
	have := make(map[string]bool, len(used))
	for _, c := range used {
		have[c] = true
	}

	var out []string
	avail := e.cfg.AvailableCommands
	for i, c := range avail {
		if have[normalizeCommand(c)] {
			continue
		}
		if i+1 < len(avail) {
			out = append(out, fmt.Sprintf("use %s before %s", c, avail[i+1]))
		} else {
			out = append(out, fmt.Sprintf("use %s to close the workflow", c))
		}
	}
	for _, c := range used {
		if !e.available[c] {
			out = append(out, fmt.Sprintf("%s is not in the available command set", c))
		}
	}
	if multiTask {
		out = append(out, fmt.Sprintf("split the objective into parallel tasks with at least %d commands", minParallelCommands))
	}
	return out
}

func mostSevere(vs []Violation) *Violation {
	best := vs[0]
	for _, v := range vs[1:] {
		if v.Blocking && !best.Blocking {
			best = v
			continue
		}
		if v.Blocking == best.Blocking && v.Severity.Rank() > best.Severity.Rank() {
			best = v
		}
	}
	return &best
}

func normalizeCommand(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c != "" && !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}

func distinctCommands(commands []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range commands {
		n := normalizeCommand(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
