// Package collector turns hook events into instruction and tool timing
// records. Each hook runs in a fresh process, so the open instruction of a
// session is carried between invocations in a per-session scratch file.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// DefaultGracePeriod is how long an instruction may stay open before it is
// closed as terminated.
const DefaultGracePeriod = 30 * time.Minute

type Config struct {
	Store      storage.Storage
	Logger     *slog.Logger
	Clock      clockwork.Clock
	ScratchDir string

	GracePeriod time.Duration
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.ScratchDir == "" {
		return errors.New("scratch dir is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.GracePeriod < 0 {
		return errors.New("grace period must be positive")
	}
	return nil
}

// Outcome is what one event changed. Either field may be nil.
type Outcome struct {
	Instruction *types.InstructionTiming
	Tool        *types.ToolTiming
}

type Collector struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	return &Collector{cfg: cfg, log: cfg.Logger.With("component", "collector")}, nil
}

func (c *Collector) nowMs() int64 {
	return c.cfg.Clock.Now().UnixMilli()
}

// Handle advances the timing state machine for one hook event.
func (c *Collector) Handle(ctx context.Context, ev *types.HookEvent) (*Outcome, error) {
	if ev.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	switch ev.Name {
	case types.HookUserPromptSubmit:
		return c.promptSubmitted(ctx, ev)
	case types.HookPreToolUse:
		return c.toolStarted(ctx, ev)
	case types.HookPostToolUse:
		return c.toolFinished(ctx, ev)
	case types.HookStop:
		return c.stopped(ctx, ev)
	case types.HookNotification:
		return &Outcome{}, nil
	}
	return nil, fmt.Errorf("unknown hook event %q", ev.Name)
}

func (c *Collector) promptSubmitted(ctx context.Context, ev *types.HookEvent) (*Outcome, error) {
	if _, err := c.RecoverStale(ctx); err != nil {
		c.log.Warn("stale instruction recovery failed", "error", err)
	}

	it := &types.InstructionTiming{
		SessionID:     ev.SessionID,
		InstructionID: uuid.NewString(),
		Type:          Classify(ev.Prompt),
		Prompt:        ev.Prompt,
		StartMs:       c.nowMs(),
		Tier:          types.TierFast,
	}
	if err := c.upsert(ctx, it); err != nil {
		return nil, err
	}
	if err := c.saveScratch(ev.SessionID, &scratch{InstructionID: it.InstructionID, StartMs: it.StartMs}); err != nil {
		return nil, err
	}
	c.log.Debug("instruction started", "session", ev.SessionID, "instruction", it.InstructionID, "type", it.Type)
	return &Outcome{Instruction: it}, nil
}

// current returns the session's open instruction. Tool events that arrive
// without a prompt (hooks installed mid-session) get an implicit one.
func (c *Collector) current(ctx context.Context, sessionID string) (*scratch, *types.InstructionTiming, error) {
	s, err := c.loadScratch(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if s != nil {
		it, err := c.cfg.Store.GetInstruction(ctx, sessionID, s.InstructionID)
		if err == nil && !it.Closed {
			return s, it, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, err
		}
	}

	it := &types.InstructionTiming{
		SessionID:     sessionID,
		InstructionID: uuid.NewString(),
		Type:          types.InstructionGeneral,
		StartMs:       c.nowMs(),
		Tier:          types.TierFast,
	}
	if err := c.upsert(ctx, it); err != nil {
		return nil, nil, err
	}
	s = &scratch{InstructionID: it.InstructionID, StartMs: it.StartMs}
	if err := c.saveScratch(sessionID, s); err != nil {
		return nil, nil, err
	}
	c.log.Debug("implicit instruction opened", "session", sessionID, "instruction", it.InstructionID)
	return s, it, nil
}

func (c *Collector) toolStarted(ctx context.Context, ev *types.HookEvent) (*Outcome, error) {
	s, it, err := c.current(ctx, ev.SessionID)
	if err != nil {
		return nil, err
	}
	s.ToolIndex++
	tt := &types.ToolTiming{
		InstructionID: it.InstructionID,
		SessionID:     ev.SessionID,
		ToolName:      ev.ToolName,
		Index:         s.ToolIndex,
		Parameters:    parameters(ev.ToolInput),
		StartMs:       c.nowMs(),
	}
	if err := c.write(ctx, "tool timing", func() error {
		_, err := c.cfg.Store.AppendToolTiming(ctx, tt)
		return err
	}); err != nil {
		return nil, err
	}
	if err := c.saveScratch(ev.SessionID, s); err != nil {
		return nil, err
	}
	return &Outcome{Instruction: it, Tool: tt}, nil
}

func (c *Collector) toolFinished(ctx context.Context, ev *types.HookEvent) (*Outcome, error) {
	s, it, err := c.current(ctx, ev.SessionID)
	if err != nil {
		return nil, err
	}
	end := c.nowMs()

	tt, err := c.cfg.Store.LatestOpenToolTiming(ctx, ev.SessionID, it.InstructionID, ev.ToolName)
	synthetic := false
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Post without a matching Pre: record a zero-length call.
		synthetic = true
		s.ToolIndex++
		tt = &types.ToolTiming{
			InstructionID: it.InstructionID,
			SessionID:     ev.SessionID,
			ToolName:      ev.ToolName,
			Index:         s.ToolIndex,
			Parameters:    parameters(ev.ToolInput),
			StartMs:       end,
		}
	case err != nil:
		return nil, err
	}

	a := assessResponse(ev.ToolResponse)
	if end < tt.StartMs {
		end = tt.StartMs
	}
	tt.EndMs = end
	tt.ExecutionMs = end - tt.StartMs
	if ev.ExecutionMs != nil && *ev.ExecutionMs >= 0 {
		tt.ExecutionMs = *ev.ExecutionMs
	}
	tt.Success = a.Success
	tt.RealExecution = a.Real
	tt.EvidenceDocumented = a.Evidence
	tt.ResultSizeBytes = a.Size
	tt.Details = toolDetails(synthetic, a.Error)

	if synthetic {
		err = c.write(ctx, "tool timing", func() error {
			_, err := c.cfg.Store.AppendToolTiming(ctx, tt)
			return err
		})
	} else {
		err = c.write(ctx, "tool timing", func() error {
			return c.cfg.Store.UpdateToolTiming(ctx, tt)
		})
	}
	if err != nil {
		return nil, err
	}
	if synthetic {
		if err := c.saveScratch(ev.SessionID, s); err != nil {
			return nil, err
		}
	}

	it.ToolCalls++
	it.ToolTimeMs += tt.ExecutionMs
	if err := c.upsert(ctx, it); err != nil {
		return nil, err
	}
	return &Outcome{Instruction: it, Tool: tt}, nil
}

func (c *Collector) stopped(ctx context.Context, ev *types.HookEvent) (*Outcome, error) {
	s, err := c.loadScratch(ev.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		c.log.Debug("stop without open instruction", "session", ev.SessionID)
		return &Outcome{}, nil
	}
	it, err := c.cfg.Store.GetInstruction(ctx, ev.SessionID, s.InstructionID)
	if errors.Is(err, storage.ErrNotFound) {
		c.removeScratch(ev.SessionID)
		return &Outcome{}, nil
	}
	if err != nil {
		return nil, err
	}
	if it.Closed {
		c.removeScratch(ev.SessionID)
		return &Outcome{Instruction: it}, nil
	}

	if err := c.finalize(ctx, it, c.nowMs(), true); err != nil {
		return nil, err
	}
	c.removeScratch(ev.SessionID)
	c.log.Debug("instruction closed", "session", ev.SessionID, "instruction", it.InstructionID,
		"total_ms", it.TotalMs, "tier", it.Tier, "tools", it.ToolCalls)
	return &Outcome{Instruction: it}, nil
}

// finalize closes an instruction at endMs and derives its summary fields
// from the tool records.
func (c *Collector) finalize(ctx context.Context, it *types.InstructionTiming, endMs int64, success bool) error {
	tools, err := c.cfg.Store.ToolTimings(ctx, it.SessionID, it.InstructionID)
	if err != nil {
		return err
	}
	summarize(it, tools, endMs, success)
	return c.upsert(ctx, it)
}

// summarize fills the closing fields of it. Instruction flags are the
// conjunction over closed tool records and hold vacuously when none ran.
func summarize(it *types.InstructionTiming, tools []*types.ToolTiming, endMs int64, success bool) {
	if endMs < it.StartMs {
		endMs = it.StartMs
	}
	it.EndMs = endMs
	it.TotalMs = endMs - it.StartMs
	it.Success = success
	it.Closed = true

	it.ToolCalls = 0
	it.ToolTimeMs = 0
	it.RealExecution = true
	it.EvidenceDocumented = true
	it.Transparency = true
	for _, t := range tools {
		if t.IsOpen() {
			continue
		}
		it.ToolCalls++
		it.ToolTimeMs += t.ExecutionMs
		it.RealExecution = it.RealExecution && t.RealExecution
		it.EvidenceDocumented = it.EvidenceDocumented && t.EvidenceDocumented
		// A call is transparent when it was announced before it ran.
		it.Transparency = it.Transparency && !isSynthetic(t)
	}

	it.ComplexityScore = types.ComplexityScore(it.TotalMs, it.ToolCalls)
	it.Tier = types.TierFor(it.TotalMs)
	switch {
	case it.TotalMs > 0:
		it.RealWorkRatio = min(float64(it.ToolTimeMs)/float64(it.TotalMs), 1)
	case it.ToolTimeMs > 0:
		it.RealWorkRatio = 1
	default:
		it.RealWorkRatio = 0
	}
}

// RecoverStale closes every instruction left open longer than the grace
// period as terminated. It returns the number closed.
func (c *Collector) RecoverStale(ctx context.Context) (int, error) {
	open, err := c.cfg.Store.OpenInstructions(ctx, "")
	if err != nil {
		return 0, err
	}
	cutoff := c.cfg.Clock.Now().Add(-c.cfg.GracePeriod).UnixMilli()
	recovered := 0
	for _, it := range open {
		if it.StartMs >= cutoff {
			continue
		}
		tools, err := c.cfg.Store.ToolTimings(ctx, it.SessionID, it.InstructionID)
		if err != nil {
			return recovered, err
		}
		end := it.StartMs
		for _, t := range tools {
			end = max(end, t.StartMs, t.EndMs)
		}
		summarize(it, tools, end, false)
		if err := c.upsert(ctx, it); err != nil {
			return recovered, err
		}
		if s, _ := c.loadScratch(it.SessionID); s != nil && s.InstructionID == it.InstructionID {
			c.removeScratch(it.SessionID)
		}
		recovered++
		metrics.StaleInstructionsRecovered.Inc()
		c.log.Info("closed stale instruction", "session", it.SessionID, "instruction", it.InstructionID,
			"age", c.cfg.Clock.Since(time.UnixMilli(it.StartMs)).Round(time.Second))
	}
	return recovered, nil
}

func (c *Collector) upsert(ctx context.Context, it *types.InstructionTiming) error {
	return c.write(ctx, "instruction timing", func() error {
		return c.cfg.Store.UpsertInstruction(ctx, it)
	})
}

func (c *Collector) write(ctx context.Context, what string, fn func() error) error {
	err := storage.WriteWithRetry(ctx, c.log, what, fn)
	if err != nil {
		metrics.StoreWriteDrops.WithLabelValues("timing").Inc()
	}
	return err
}

type details struct {
	Synthetic bool   `json:"synthetic,omitempty"`
	Error     string `json:"error,omitempty"`
}

func toolDetails(synthetic bool, errMsg string) string {
	if !synthetic && errMsg == "" {
		return ""
	}
	data, _ := json.Marshal(details{Synthetic: synthetic, Error: types.Truncate(errMsg, 200)})
	return string(data)
}

func isSynthetic(t *types.ToolTiming) bool {
	if t.Details == "" {
		return false
	}
	var d details
	return json.Unmarshal([]byte(t.Details), &d) == nil && d.Synthetic
}
