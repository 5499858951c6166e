package hooks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/governor/internal/collector"
	"github.com/steveyegge/governor/internal/coordinator"
	"github.com/steveyegge/governor/internal/types"
)

type fakeCollector struct {
	mu     sync.Mutex
	events []*types.HookEvent
	err    error
}

func (f *fakeCollector) Handle(_ context.Context, ev *types.HookEvent) (*collector.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &collector.Outcome{
		Instruction: &types.InstructionTiming{SessionID: ev.SessionID, InstructionID: "inst-1"},
		Tool:        &types.ToolTiming{ToolName: ev.ToolName, ExecutionMs: 80},
	}, nil
}

type fakeDecider struct {
	decision *coordinator.Decision
	requests []coordinator.Request
}

func (f *fakeDecider) Decide(_ context.Context, req coordinator.Request) *coordinator.Decision {
	f.requests = append(f.requests, req)
	return f.decision
}

type bridgeFixture struct {
	bridge    *Bridge
	collector *fakeCollector
	decider   *fakeDecider
	logDir    string
	clock     *clockwork.FakeClock
}

func newBridgeFixture(t *testing.T, mutate func(*Config)) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		collector: &fakeCollector{},
		decider:   &fakeDecider{decision: &coordinator.Decision{Decision: coordinator.DecisionAllow}},
		logDir:    t.TempDir(),
		clock:     clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)),
	}
	cfg := Config{
		Collector: f.collector,
		Log:       NewEventLog(f.logDir),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     f.clock,
		Decider:   f.decider,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	var err error
	f.bridge, err = NewBridge(cfg)
	require.NoError(t, err)
	return f
}

func (f *bridgeFixture) logLines(t *testing.T) []logEntry {
	t.Helper()
	file, err := os.Open(filepath.Join(f.logDir, "hooks_2025-03-01.jsonl"))
	require.NoError(t, err)
	defer file.Close()
	var out []logEntry
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		var e logEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Log: NewEventLog(t.TempDir()), Logger: slog.Default()}
	assert.Error(t, cfg.Validate(), "collector is required")

	cfg.Collector = &fakeCollector{}
	cfg.Enforce = true
	assert.Error(t, cfg.Validate(), "enforce needs a decider")

	cfg.Enforce = false
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDeadline, cfg.Deadline)
}

func TestRun_ParseErrorExitsNonZero(t *testing.T) {
	f := newBridgeFixture(t, nil)
	var stdout bytes.Buffer
	code := f.bridge.Run(context.Background(), strings.NewReader(`{not json`), &stdout)
	assert.Equal(t, ExitParseError, code)
	assert.Empty(t, f.collector.events)
	assert.Empty(t, stdout.String())
}

func TestRun_RecordsAndLogs(t *testing.T) {
	f := newBridgeFixture(t, nil)
	var stdout bytes.Buffer
	code := f.bridge.Run(context.Background(),
		strings.NewReader(`{"hook_event_name":"UserPromptSubmit","session_id":"s1","prompt":"read the docs"}`), &stdout)

	assert.Equal(t, ExitOK, code)
	require.Len(t, f.collector.events, 1)
	assert.Equal(t, "read the docs", f.collector.events[0].Prompt)
	assert.Empty(t, stdout.String())

	lines := f.logLines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "recorded", lines[0].Outcome)
	assert.Equal(t, "inst-1", lines[0].Extra["instruction_id"])
	assert.Equal(t, types.HookUserPromptSubmit, lines[0].Event.Name)
}

func TestRun_CollectorFailureStillExitsZero(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.collector.err = errors.New("database is locked")

	code := f.bridge.Run(context.Background(),
		strings.NewReader(`{"hook_event_name":"Stop","session_id":"s1"}`), io.Discard)
	assert.Equal(t, ExitOK, code)

	lines := f.logLines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "collector_error", lines[0].Outcome)
}

func TestRun_ObserverDelivery(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newBridgeFixture(t, func(c *Config) { c.Observer = NewObserverClient(srv.URL+"/", srv.Client()) })
	ctx := context.Background()
	require.Equal(t, ExitOK, f.bridge.Run(ctx,
		strings.NewReader(`{"hook_event_name":"PostToolUse","session_id":"s1","tool_name":"Read"}`), io.Discard))
	require.Equal(t, ExitOK, f.bridge.Run(ctx,
		strings.NewReader(`{"hook_event_name":"Stop","session_id":"s1"}`), io.Discard))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits[PathEvent])
	assert.Equal(t, 1, hits[PathPerformance])
	assert.Equal(t, 1, hits[PathMetric])
}

func TestRun_ObserverDownIsBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newBridgeFixture(t, func(c *Config) { c.Observer = NewObserverClient(srv.URL, srv.Client()) })
	code := f.bridge.Run(context.Background(),
		strings.NewReader(`{"hook_event_name":"Notification","session_id":"s1","message":"idle"}`), io.Discard)
	assert.Equal(t, ExitOK, code)
	assert.Len(t, f.logLines(t), 1, "local log is the backup")
}

func TestRun_PreToolUseAdvisory(t *testing.T) {
	f := newBridgeFixture(t, func(c *Config) { c.Enforce = true })
	f.decider.decision = &coordinator.Decision{
		Decision:    coordinator.DecisionBlock,
		Blocked:     true,
		HardDeny:    `dangerous operation "rm -rf"`,
		Violations:  []string{`HARD_DENY: dangerous operation "rm -rf"`},
		Remediation: []string{"• security: never permitted"},
	}

	var stdout bytes.Buffer
	code := f.bridge.Run(context.Background(), strings.NewReader(
		`{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Bash","tool_input":{"command":"rm -rf /"}}`), &stdout)
	assert.Equal(t, ExitOK, code, "advisories never block the host")

	require.Len(t, f.decider.requests, 1)
	assert.Equal(t, "rm -rf /", f.decider.requests[0].Operation)

	var adv Advisory
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &adv))
	assert.Equal(t, "advisory", adv.Decision)
	assert.True(t, adv.Blocked)
	assert.Equal(t, coordinator.DecisionBlock, adv.Verdict)
	assert.Contains(t, adv.Reason, "rm -rf")

	lines := f.logLines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, coordinator.DecisionBlock, lines[0].Extra["advisory"])
}

func TestRun_AllowedToolPrintsNothing(t *testing.T) {
	f := newBridgeFixture(t, func(c *Config) { c.Enforce = true })
	var stdout bytes.Buffer
	f.bridge.Run(context.Background(), strings.NewReader(
		`{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Read","tool_input":{"file_path":"a.go"}}`), &stdout)
	assert.Empty(t, stdout.String())
}

func TestRun_DeadlineBoundsObserver(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newBridgeFixture(t, func(c *Config) {
		c.Observer = NewObserverClient(srv.URL, srv.Client())
		c.Deadline = 100 * time.Millisecond
	})
	start := time.Now()
	code := f.bridge.Run(context.Background(),
		strings.NewReader(`{"hook_event_name":"Stop","session_id":"s1"}`), io.Discard)
	assert.Equal(t, ExitOK, code)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

// stalledReader never returns, like a host that keeps stdin open.
type stalledReader struct{ unblock chan struct{} }

func (r stalledReader) Read([]byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestRun_DeadlineBoundsStdin(t *testing.T) {
	f := newBridgeFixture(t, func(c *Config) { c.Deadline = 100 * time.Millisecond })
	in := stalledReader{unblock: make(chan struct{})}
	defer close(in.unblock)

	var stdout bytes.Buffer
	start := time.Now()
	code := f.bridge.Run(context.Background(), in, &stdout)
	assert.Equal(t, ExitParseError, code)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, f.collector.events)
	assert.Empty(t, stdout.String())
}

func TestRequestFor(t *testing.T) {
	tests := []struct {
		name    string
		ev      *types.HookEvent
		context string
		op      string
	}{
		{
			name:    "bash",
			ev:      &types.HookEvent{ToolName: "Bash", ToolInput: map[string]any{"command": "go test ./..."}},
			context: "Bash tool call",
			op:      "go test ./...",
		},
		{
			name:    "write in root",
			ev:      &types.HookEvent{ToolName: "Write", Cwd: "/repo", ToolInput: map[string]any{"file_path": "/repo/NOTES.md"}},
			context: "Write tool call in the repository root",
			op:      "create file /repo/NOTES.md",
		},
		{
			name:    "write in subdir",
			ev:      &types.HookEvent{ToolName: "Write", Cwd: "/repo", ToolInput: map[string]any{"file_path": "docs/NOTES.md"}},
			context: "Write tool call",
			op:      "create file docs/NOTES.md",
		},
		{
			name:    "edit",
			ev:      &types.HookEvent{ToolName: "Edit", ToolInput: map[string]any{"file_path": "main.go"}},
			context: "Edit tool call",
			op:      "edit file main.go",
		},
		{
			name:    "other",
			ev:      &types.HookEvent{ToolName: "Grep", ToolInput: map[string]any{"pattern": "TODO"}},
			context: "Grep tool call",
			op:      `Grep {"pattern":"TODO"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := RequestFor(tt.ev)
			assert.Equal(t, tt.context, req.Context)
			assert.Equal(t, tt.op, req.Operation)
		})
	}
}
