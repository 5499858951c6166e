// Package coordinator composes the principle engine, the orchestration
// enforcer and a fixed hard-deny list into one enforcement decision.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/orchestration"
	"github.com/steveyegge/governor/internal/principles"
)

// Decision labels.
const (
	DecisionAllow    = "ALLOW"
	DecisionAdvisory = "ADVISORY"
	DecisionBlock    = "BLOCK"
)

const (
	engineWeight = 0.4
	signalWeight = 0.1
)

// denyPhrases always block when found in the operation text.
var denyPhrases = []string{
	"rm -rf", "delete database", "drop table", "format drive", "sudo chmod 777", "disable security",
}

// denyPatterns catch the destructive shell forms the phrases miss.
var denyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`,
	`\bmkfs\b`,
	`\bdd\b.*\bof=/dev/`,
	`>\s*/dev/sd`,
	`\bchmod\s+-R\s+777\b`,
	`(?i)\btruncate\s+table\b`,
}

var (
	rootContextPattern = regexp.MustCompile(`(?i)\broot\b`)
	createVerbPattern  = regexp.MustCompile(`(?i)\b(create|write|touch|new|add)\b`)
	fileTargetPattern  = regexp.MustCompile(`(?i)(\bfile\b|\.[a-z0-9]{1,5}\b)`)
)

type Config struct {
	Principles    *principles.Engine
	Orchestration *orchestration.Enforcer
	Logger        *slog.Logger

	// ExtraDenyPatterns are regexes appended to the built-in deny list.
	ExtraDenyPatterns []string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Principles == nil && c.Orchestration == nil {
		return errors.New("at least one engine is required")
	}
	return nil
}

// Request is one operation submitted for a decision.
type Request struct {
	Context   string   `json:"context"`
	Operation string   `json:"operation"`
	Objective string   `json:"objective,omitempty"`
	Commands  []string `json:"commands,omitempty"`
}

// Decision is the unified enforcement outcome.
type Decision struct {
	Decision      string                `json:"decision"`
	Blocked       bool                  `json:"blocked"`
	Confidence    float64               `json:"confidence"`
	HardDeny      string                `json:"hard_deny,omitempty"`
	Violations    []string              `json:"violations"`
	Remediation   []string              `json:"remediation"`
	Suggestions   []string              `json:"suggestions,omitempty"`
	Principles    *principles.Result    `json:"principles,omitempty"`
	Orchestration *orchestration.Result `json:"orchestration,omitempty"`
	Errors        []string              `json:"errors,omitempty"`
}

type Coordinator struct {
	cfg  Config
	log  *slog.Logger
	deny []*regexp.Regexp
}

func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Coordinator{cfg: cfg, log: cfg.Logger.With("component", "coordinator")}
	for _, p := range append(append([]string(nil), denyPatterns...), cfg.ExtraDenyPatterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
		c.deny = append(c.deny, re)
	}
	return c, nil
}

// Decide evaluates a request. Identical inputs over an identical rule set
// yield identical decisions.
func (c *Coordinator) Decide(ctx context.Context, req Request) *Decision {
	d := &Decision{}
	var signals int
	var operational int
	var remediation []string

	if c.cfg.Principles != nil {
		res, err := c.cfg.Principles.Check(ctx, req.Context, req.Operation)
		if err != nil {
			c.log.Warn("principle engine unavailable", "error", err)
			d.Errors = append(d.Errors, "principles: "+err.Error())
		} else {
			operational++
			d.Principles = res
			signals += len(res.Violations)
			d.Violations = append(d.Violations, res.Violations...)
			for _, a := range res.Remediation {
				remediation = append(remediation, "principles: "+a)
			}
			if res.Blocked {
				d.Blocked = true
			}
		}
	}

	// A request already blocked by a principle is not evaluated for
	// orchestration, so it records no orchestration violations.
	if c.cfg.Orchestration != nil {
		if !d.Blocked && (req.Objective != "" || len(req.Commands) > 0) {
			res, err := c.cfg.Orchestration.Evaluate(ctx, req.Objective, req.Commands)
			if err != nil {
				c.log.Warn("orchestration enforcer unavailable", "error", err)
				d.Errors = append(d.Errors, "orchestration: "+err.Error())
			} else {
				operational++
				d.Orchestration = res
				for _, v := range res.Violations {
					signals++
					d.Violations = append(d.Violations, fmt.Sprintf("%s [%s]: %s", v.RuleID, v.Severity, v.Message))
				}
				for _, s := range res.Suggestions {
					remediation = append(remediation, "orchestration: "+s)
				}
				d.Suggestions = res.Suggestions
				if !res.Compliant && res.Violation != nil && res.Violation.Blocking && res.Violation.Severity.IsBlocking() {
					d.Blocked = true
				}
			}
		} else {
			operational++
		}
	}

	if reason := c.hardDeny(req); reason != "" {
		signals++
		d.Blocked = true
		d.HardDeny = reason
		d.Violations = append(d.Violations, "HARD_DENY: "+reason)
		remediation = append(remediation, "security: "+reason+" is never permitted")
	}

	d.Confidence = float64(operational)*engineWeight + float64(signals)*signalWeight
	if d.Confidence > 1 {
		d.Confidence = 1
	}

	switch {
	case d.Blocked:
		d.Decision = DecisionBlock
		remediation = append(remediation,
			"guidance: operation blocked; resolve the violations above before retrying",
			"guidance: run 'gov enforce stats' to review recent violations")
	case len(d.Violations) > 0:
		d.Decision = DecisionAdvisory
	default:
		d.Decision = DecisionAllow
	}
	d.Remediation = bulletize(remediation)

	metrics.Decisions.WithLabelValues(d.Decision).Inc()
	return d
}

// hardDeny returns the reason an operation is denied regardless of rules.
func (c *Coordinator) hardDeny(req Request) string {
	op := strings.ToLower(req.Operation)
	for _, p := range denyPhrases {
		if strings.Contains(op, p) {
			return fmt.Sprintf("dangerous operation %q", p)
		}
	}
	for _, re := range c.deny {
		if re.MatchString(req.Operation) {
			return fmt.Sprintf("dangerous operation matching %s", re.String())
		}
	}
	if rootContextPattern.MatchString(req.Context) &&
		createVerbPattern.MatchString(req.Operation) && fileTargetPattern.MatchString(req.Operation) {
		return "file creation in the repository root"
	}
	return ""
}

func bulletize(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, "• "+it)
	}
	return out
}

// ExitCode maps a decision onto the CLI exit code: 1 blocked, 2 advisory.
func (d *Decision) ExitCode() int {
	switch d.Decision {
	case DecisionBlock:
		return 1
	case DecisionAdvisory:
		return 2
	}
	return 0
}
