package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/steveyegge/governor/internal/types"
)

// ErrParse marks input the bridge cannot interpret. It is the only failure
// that yields a non-zero exit.
var ErrParse = errors.New("hook input parse error")

// maxInputBytes bounds what is read from stdin.
const maxInputBytes = 8 << 20

// ParseEvent decodes one hook event. Fields other than hook_event_name and
// session_id are coerced loosely since hosts vary in what they send.
func ParseEvent(r io.Reader, now time.Time) (*types.HookEvent, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading input: %v", ErrParse, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrParse)
	}

	ev := &types.HookEvent{
		ID:         uuid.NewString(),
		Name:       types.HookEventName(cast.ToString(raw["hook_event_name"])),
		SessionID:  cast.ToString(raw["session_id"]),
		Prompt:     cast.ToString(raw["prompt"]),
		ToolName:   cast.ToString(raw["tool_name"]),
		Message:    cast.ToString(raw["message"]),
		Cwd:        cast.ToString(raw["cwd"]),
		ReceivedAt: now,
	}
	if ev.Name == "" {
		return nil, fmt.Errorf("%w: hook_event_name is required", ErrParse)
	}
	if !ev.Name.IsValid() {
		return nil, fmt.Errorf("%w: unknown hook_event_name %q", ErrParse, ev.Name)
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrParse)
	}
	if ev.Name.IsToolEvent() && ev.ToolName == "" {
		return nil, fmt.Errorf("%w: tool_name is required for %s", ErrParse, ev.Name)
	}

	if in, ok := raw["tool_input"]; ok && in != nil {
		m, err := cast.ToStringMapE(in)
		if err != nil {
			m = map[string]any{"value": in}
		}
		ev.ToolInput = m
	}
	ev.ToolResponse = raw["tool_response"]

	// An unusable duration is dropped; the collector measures its own.
	if v, ok := raw["execution_time_ms"]; ok && v != nil {
		if ms, err := cast.ToInt64E(v); err == nil && ms >= 0 {
			ev.ExecutionMs = &ms
		}
	}
	return ev, nil
}
