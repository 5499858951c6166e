package types

import "time"

// HookEventName is the host lifecycle point a hook fired at.
type HookEventName string

const (
	HookUserPromptSubmit HookEventName = "UserPromptSubmit"
	HookPreToolUse       HookEventName = "PreToolUse"
	HookPostToolUse      HookEventName = "PostToolUse"
	HookStop             HookEventName = "Stop"
	HookNotification     HookEventName = "Notification"
)

// IsValid checks if the hook event name is one the bridge accepts
func (n HookEventName) IsValid() bool {
	switch n {
	case HookUserPromptSubmit, HookPreToolUse, HookPostToolUse, HookStop, HookNotification:
		return true
	}
	return false
}

// IsToolEvent reports whether the event carries tool_name.
func (n HookEventName) IsToolEvent() bool {
	return n == HookPreToolUse || n == HookPostToolUse
}

// HookEvent is one parsed hook invocation.
type HookEvent struct {
	ID           string         `json:"id"`
	Name         HookEventName  `json:"hook_event_name"`
	SessionID    string         `json:"session_id"`
	Prompt       string         `json:"prompt,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolInput    map[string]any `json:"tool_input,omitempty"`
	ToolResponse any            `json:"tool_response,omitempty"`
	Message      string         `json:"message,omitempty"`
	Cwd          string         `json:"cwd,omitempty"`

	// ExecutionMs is the host-reported tool duration; nil when absent.
	ExecutionMs *int64 `json:"execution_time_ms,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}
