package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/steveyegge/governor/internal/storage"
)

// scratch is the cross-hook state of one session. Each hook runs in its own
// process, so it lives on disk.
type scratch struct {
	InstructionID string `json:"instruction_id"`
	StartMs       int64  `json:"start_ms"`
	ToolIndex     int    `json:"tool_index"`
}

var unsafeSessionChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func (c *Collector) scratchPath(sessionID string) string {
	return filepath.Join(c.cfg.ScratchDir, "session_"+unsafeSessionChars.ReplaceAllString(sessionID, "_")+".json")
}

// loadScratch returns nil without error when the session has no scratch file.
func (c *Collector) loadScratch(sessionID string) (*scratch, error) {
	data, err := os.ReadFile(c.scratchPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session scratch: %w", err)
	}
	var s scratch
	if err := json.Unmarshal(data, &s); err != nil {
		// A torn or foreign file is treated as absent.
		c.log.Warn("discarding unreadable session scratch", "session", sessionID, "error", err)
		return nil, nil
	}
	if s.InstructionID == "" {
		return nil, nil
	}
	return &s, nil
}

func (c *Collector) saveScratch(sessionID string, s *scratch) error {
	if err := storage.WriteJSONAtomic(c.scratchPath(sessionID), s); err != nil {
		return fmt.Errorf("writing session scratch: %w", err)
	}
	return nil
}

func (c *Collector) removeScratch(sessionID string) {
	if err := os.Remove(c.scratchPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("failed to remove session scratch", "session", sessionID, "error", err)
	}
}
