package collector

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// simulationMarkers flag responses that describe work instead of doing it.
var simulationMarkers = regexp.MustCompile(`(?i)\b(simulated|simulation|mock(ed)?|placeholder|dry[\s-]run)\b`)

// assessment is what a tool response says about the call.
type assessment struct {
	Success  bool
	Real     bool
	Evidence bool
	Size     int64
	Error    string
}

// assessResponse inspects a decoded tool_response. The host sends strings,
// objects or nothing, with success and error keys under varying names.
func assessResponse(resp any) assessment {
	text := responseText(resp)
	a := assessment{
		Success:  true,
		Size:     int64(len(text)),
		Evidence: strings.TrimSpace(text) != "",
	}
	a.Real = a.Evidence && !simulationMarkers.MatchString(text)

	m, ok := resp.(map[string]any)
	if !ok {
		return a
	}
	for _, key := range []string{"success", "ok"} {
		if v, found := m[key]; found {
			a.Success = cast.ToBool(v)
		}
	}
	for _, key := range []string{"is_error", "isError"} {
		if cast.ToBool(m[key]) {
			a.Success = false
		}
	}
	switch e := m["error"].(type) {
	case nil:
	case bool:
		if e {
			a.Success = false
		}
	default:
		if msg := cast.ToString(e); msg != "" {
			a.Success = false
			a.Error = msg
		}
	}
	if code, err := cast.ToIntE(m["exit_code"]); err == nil && code != 0 {
		a.Success = false
	}
	return a
}

func responseText(resp any) string {
	switch v := resp.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	if s, err := cast.ToStringE(resp); err == nil {
		return s
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return string(data)
}

// parameters renders tool_input for storage.
func parameters(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(data)
}
