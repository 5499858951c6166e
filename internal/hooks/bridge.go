// Package hooks is the boundary between the host's hook scripts and the
// governor. It accepts one untrusted JSON event on stdin, records it, and
// never holds the host past its deadline.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cast"

	"github.com/steveyegge/governor/internal/collector"
	"github.com/steveyegge/governor/internal/coordinator"
	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/types"
)

// DefaultDeadline bounds one hook invocation.
const DefaultDeadline = 30 * time.Second

// Exit codes returned by Run.
const (
	ExitOK         = 0
	ExitParseError = 1
)

// Collector records timing state for an event.
type Collector interface {
	Handle(ctx context.Context, ev *types.HookEvent) (*collector.Outcome, error)
}

// Decider evaluates a tool call before it runs.
type Decider interface {
	Decide(ctx context.Context, req coordinator.Request) *coordinator.Decision
}

type Config struct {
	Collector Collector
	Log       *EventLog
	Logger    *slog.Logger
	Clock     clockwork.Clock

	// Observer is optional; nil disables remote delivery.
	Observer *ObserverClient

	// Decider and Enforce control PreToolUse advisories.
	Decider Decider
	Enforce bool

	Deadline time.Duration
}

func (c *Config) Validate() error {
	if c.Collector == nil {
		return errors.New("collector is required")
	}
	if c.Log == nil {
		return errors.New("event log is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Enforce && c.Decider == nil {
		return errors.New("decider is required when enforce is set")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
	}
	if c.Deadline < 0 {
		return errors.New("deadline must be positive")
	}
	return nil
}

// Advisory is the single JSON object written to stdout when a PreToolUse
// call would violate policy. It never stops the tool.
type Advisory struct {
	Decision    string   `json:"decision"`
	Blocked     bool     `json:"blocked"`
	Verdict     string   `json:"verdict"`
	Reason      string   `json:"reason"`
	Violations  []string `json:"violations"`
	Remediation []string `json:"remediation"`
}

type Bridge struct {
	cfg Config
	log *slog.Logger
}

func NewBridge(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Bridge{cfg: cfg, log: cfg.Logger.With("component", "hooks")}, nil
}

// Run parses stdin and handles the event, all within the deadline. Only a
// parse failure or input that never arrives is reported to the host;
// everything downstream is best effort.
func (b *Bridge) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) int {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Deadline)
	defer cancel()

	ev, err := b.read(ctx, stdin)
	if err != nil {
		metrics.HookEvents.WithLabelValues("invalid").Inc()
		b.log.Error("rejecting hook input", "error", err)
		return ExitParseError
	}
	b.Handle(ctx, ev, stdout)
	return ExitOK
}

type parsed struct {
	ev  *types.HookEvent
	err error
}

// read parses stdin in the background so a host that never closes the pipe
// cannot hold the hook past ctx.
func (b *Bridge) read(ctx context.Context, stdin io.Reader) (*types.HookEvent, error) {
	now := b.cfg.Clock.Now()
	done := make(chan parsed, 1)
	go func() {
		ev, err := ParseEvent(stdin, now)
		done <- parsed{ev, err}
	}()
	select {
	case p := <-done:
		return p.ev, p.err
	case <-ctx.Done():
		return nil, fmt.Errorf("reading hook input: %w", ctx.Err())
	}
}

// Handle routes a parsed event to the collector, the local log, the
// observer and, for PreToolUse, the advisory check.
func (b *Bridge) Handle(ctx context.Context, ev *types.HookEvent, stdout io.Writer) {
	metrics.HookEvents.WithLabelValues(string(ev.Name)).Inc()
	log := b.log.With("event", ev.Name, "session", ev.SessionID)

	outcome, err := b.cfg.Collector.Handle(ctx, ev)
	status := "recorded"
	if err != nil {
		status = "collector_error"
		log.Warn("timing collection failed", "error", err)
	}

	var advisory *Advisory
	if b.cfg.Enforce && ev.Name == types.HookPreToolUse {
		advisory = b.advise(ctx, ev)
	}

	extra := map[string]string{}
	if outcome != nil && outcome.Instruction != nil {
		extra["instruction_id"] = outcome.Instruction.InstructionID
	}
	if advisory != nil {
		extra["advisory"] = advisory.Verdict
	}
	if err := b.cfg.Log.Append(ev, status, extra); err != nil {
		log.Warn("failed to write hook log", "error", err)
	}

	if b.cfg.Observer != nil {
		b.notifyObserver(ctx, ev, outcome, log)
	}

	if advisory != nil && stdout != nil {
		if err := json.NewEncoder(stdout).Encode(advisory); err != nil {
			log.Warn("failed to write advisory", "error", err)
		}
	}
}

func (b *Bridge) advise(ctx context.Context, ev *types.HookEvent) *Advisory {
	d := b.cfg.Decider.Decide(ctx, RequestFor(ev))
	if d.Decision == coordinator.DecisionAllow {
		return nil
	}
	reason := "policy advisories raised"
	if d.HardDeny != "" {
		reason = d.HardDeny
	} else if len(d.Violations) > 0 {
		reason = d.Violations[0]
	}
	return &Advisory{
		Decision:    "advisory",
		Blocked:     d.Blocked,
		Verdict:     d.Decision,
		Reason:      reason,
		Violations:  d.Violations,
		Remediation: d.Remediation,
	}
}

// RequestFor describes a tool call in the terms the coordinator evaluates.
func RequestFor(ev *types.HookEvent) coordinator.Request {
	input := func(key string) string { return cast.ToString(ev.ToolInput[key]) }
	ctxText := fmt.Sprintf("%s tool call", ev.ToolName)

	var op string
	switch ev.ToolName {
	case "Bash":
		op = input("command")
	case "Write":
		path := input("file_path")
		op = "create file " + path
		if inRoot(path, ev.Cwd) {
			ctxText += " in the repository root"
		}
	case "Edit", "MultiEdit", "NotebookEdit":
		op = "edit file " + input("file_path")
	default:
		params, _ := json.Marshal(ev.ToolInput)
		op = strings.TrimSpace(ev.ToolName + " " + string(params))
	}
	return coordinator.Request{Context: ctxText, Operation: op}
}

func inRoot(path, cwd string) bool {
	if path == "" {
		return false
	}
	if !filepath.IsAbs(path) {
		return !strings.ContainsRune(filepath.ToSlash(filepath.Clean(path)), '/')
	}
	return cwd != "" && filepath.Dir(filepath.Clean(path)) == filepath.Clean(cwd)
}

func (b *Bridge) notifyObserver(ctx context.Context, ev *types.HookEvent, outcome *collector.Outcome, log *slog.Logger) {
	post := func(path string, body any) {
		if err := b.cfg.Observer.Post(ctx, path, body); err != nil {
			log.Warn("observer delivery failed", "path", path, "error", err)
		}
	}
	post(PathEvent, ev)
	if outcome == nil {
		return
	}
	if ev.Name == types.HookPostToolUse && outcome.Tool != nil {
		post(PathPerformance, outcome.Tool)
	}
	if ev.Name == types.HookStop && outcome.Instruction != nil {
		post(PathMetric, outcome.Instruction)
	}
}
