package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/governor/internal/types"
)

// logEntry is one line of the daily hook log.
type logEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Event     *types.HookEvent  `json:"event"`
	Outcome   string            `json:"outcome,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLog appends hook events to one JSON-lines file per UTC day.
type EventLog struct {
	dir string
}

func NewEventLog(dir string) *EventLog {
	return &EventLog{dir: dir}
}

// PathFor returns the file events at t are appended to.
func (l *EventLog) PathFor(t time.Time) string {
	return filepath.Join(l.dir, "hooks_"+t.UTC().Format("2006-01-02")+".jsonl")
}

// Append writes one line. Lines are written with a single O_APPEND write so
// concurrent hook processes do not interleave within a line.
func (l *EventLog) Append(ev *types.HookEvent, outcome string, extra map[string]string) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	line, err := json.Marshal(logEntry{Timestamp: ev.ReceivedAt.UTC(), Event: ev, Outcome: outcome, Extra: extra})
	if err != nil {
		return fmt.Errorf("marshaling log entry: %w", err)
	}
	f, err := os.OpenFile(l.PathFor(ev.ReceivedAt), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening hook log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing hook log: %w", err)
	}
	return nil
}
