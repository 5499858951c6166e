// Package principles evaluates proposed operations against the active rule
// set and records every fired rule as a violation.
package principles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/rules"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// ExtractedRulePrefix marks rules owned by the document extractor. Refresh
// only deactivates rules carrying this prefix.
const ExtractedRulePrefix = "RULE_"

// DefaultTopN is the number of most-violated rules reported by Stats.
const DefaultTopN = 10

type Config struct {
	Store  storage.Storage
	Logger *slog.Logger
	Clock  clockwork.Clock
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
	return nil
}

// Engine is the principle engine.
type Engine struct {
	cfg Config
	log *slog.Logger

	// warned holds rule ids whose predicate errors were already logged.
	warned sync.Map
}

// Result is the outcome of one Check.
type Result struct {
	Blocked      bool          `json:"blocked"`
	Violations   []string      `json:"violations"`
	Remediation  []string      `json:"remediation"`
	Fired        []*types.Rule `json:"-"`
	ViolationIDs []int64       `json:"violation_ids,omitempty"`
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Engine{cfg: cfg, log: cfg.Logger.With("component", "principles")}, nil
}

// Check evaluates (callerContext, operation) against every active rule. A rule
// fires when any of its triggers is satisfied. The call is blocked when a
// fired rule is CRITICAL or HIGH, or is of a hard-blocking kind.
func (e *Engine) Check(ctx context.Context, callerContext, operation string) (*Result, error) {
	active, err := e.cfg.Store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	res := &Result{}
	seenAction := make(map[string]bool)
	for _, rule := range active {
		if !e.fires(rule, callerContext, operation) {
			continue
		}
		res.Fired = append(res.Fired, rule)
		res.Violations = append(res.Violations, FormatViolation(rule))
		for _, a := range rule.Actions {
			if !seenAction[a] {
				seenAction[a] = true
				res.Remediation = append(res.Remediation, a)
			}
		}
		if rule.Severity.IsBlocking() || rule.Kind.IsHardBlocking() {
			res.Blocked = true
		}
		metrics.RulesFired.WithLabelValues(string(rule.Kind), string(rule.Severity)).Inc()
	}

	now := e.cfg.Clock.Now()
	for _, rule := range res.Fired {
		v := &types.Violation{
			RuleID:      rule.ID,
			Kind:        rule.Kind,
			Context:     callerContext,
			Operation:   operation,
			Remediation: strings.Join(rule.Actions, ","),
			CreatedAt:   now,
		}
		err := storage.WriteWithRetry(ctx, e.log, "violation", func() error {
			_, err := e.cfg.Store.AppendViolation(ctx, v)
			return err
		})
		if err != nil {
			metrics.StoreWriteDrops.WithLabelValues("violation").Inc()
			continue
		}
		res.ViolationIDs = append(res.ViolationIDs, v.ID)
	}

	return res, nil
}

func (e *Engine) fires(rule *types.Rule, callerContext, operation string) bool {
	for _, trig := range rule.Triggers {
		pred, err := rules.ParsePredicate(trig)
		if err == nil {
			var ok bool
			ok, err = pred.Evaluate(callerContext, operation)
			if err == nil && ok {
				return true
			}
		}
		if err != nil {
			metrics.PredicateErrors.WithLabelValues(rule.ID).Inc()
			if _, loaded := e.warned.LoadOrStore(rule.ID, struct{}{}); !loaded {
				e.log.Warn("predicate treated as not fired", "rule", rule.ID, "trigger", trig, "error", err)
			}
		}
	}
	return false
}

// FormatViolation renders a fired rule for user-facing output.
func FormatViolation(rule *types.Rule) string {
	return fmt.Sprintf("%s [%s/%s]: %s", rule.ID, rule.Kind, rule.Severity, rule.Description)
}

// Refresh re-extracts rules from the governing document, upserts them and
// deactivates extracted rules absent from the new pass. On any extraction
// error the stored rule set is left untouched.
func (e *Engine) Refresh(ctx context.Context, path string) (int, error) {
	extracted, err := rules.NewExtractor().Extract(path)
	if err != nil {
		return 0, err
	}

	keep := make([]string, 0, len(extracted))
	for _, r := range extracted {
		if err := e.cfg.Store.UpsertRule(ctx, r); err != nil {
			return 0, fmt.Errorf("failed to store rule %s: %w", r.ID, err)
		}
		keep = append(keep, r.ID)
	}

	n, err := e.cfg.Store.DeactivateRulesExcept(ctx, ExtractedRulePrefix, keep)
	if err != nil {
		return len(extracted), err
	}
	e.log.Info("rules refreshed", "path", path, "extracted", len(extracted), "deactivated", n)
	return len(extracted), nil
}

// Stats reports rule and violation counts over the last windowHours.
func (e *Engine) Stats(ctx context.Context, windowHours int) (*types.RuleStats, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := e.cfg.Clock.Now().Add(-time.Duration(windowHours) * time.Hour)
	stats, err := e.cfg.Store.RuleStats(ctx, since, DefaultTopN)
	if err != nil {
		return nil, err
	}
	stats.WindowHours = windowHours
	return stats, nil
}
