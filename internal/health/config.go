package health

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jonboulle/clockwork"

	"github.com/steveyegge/governor/internal/storage"
)

// DefaultPatterns enumerates the monitored paths relative to the root:
// documentation, scripts, command definitions and a few top-level files.
var DefaultPatterns = []string{
	"docs/**",
	"scripts/**",
	"commands/**",
	".claude/commands/**",
	"README.md",
	"CLAUDE.md",
	"GOVERNANCE.md",
	"CHANGELOG.md",
}

// DefaultExcludePatterns are never tracked even when a pattern matches.
var DefaultExcludePatterns = []string{
	".git/",
	".governor/",
	"node_modules/",
	"vendor/",
	"testdata/",
	".swp",
	".tmp",
	"~",
}

const (
	DefaultDebounce       = 5 * time.Second
	DefaultQueueSize      = 1000
	DefaultWorkers        = 3
	DefaultSLO            = 5 * time.Second
	DefaultPollInterval   = time.Second
	DefaultHealthInterval = time.Minute
	DefaultHealthFloor    = 0.8
)

// HealthMetricType is the compliance metric row the monitor writes.
const HealthMetricType = "governance_health_score"

type Config struct {
	Store  storage.Storage
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Root is the project directory to watch.
	Root string

	// Optional with defaults.
	Patterns        []string
	ExcludePatterns []string
	Thresholds      Thresholds
	Debounce        time.Duration
	QueueSize       int
	Workers         int
	SLO             time.Duration
	PollInterval    time.Duration
	HealthInterval  time.Duration
	HealthFloor     float64

	// ForcePolling skips fsnotify and scans every PollInterval.
	ForcePolling bool

	// AlertsDir receives one JSON file per violated threshold. Empty
	// disables alert files.
	AlertsDir string

	// StatePath persists last reported values across restarts. Empty
	// keeps state in memory only.
	StatePath string

	// Remediator is invoked for remediable kinds; nil disables it.
	Remediator *Remediator
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Root == "" {
		return errors.New("root is required")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("invalid root path %q: %w", c.Root, err)
	}
	c.Root = abs
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.Patterns) == 0 {
		c.Patterns = DefaultPatterns
	}
	for _, p := range c.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid monitored pattern %q", p)
		}
	}
	if c.ExcludePatterns == nil {
		c.ExcludePatterns = DefaultExcludePatterns
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	if c.Thresholds.FileSizeLines <= 0 || c.Thresholds.TechnicalDebtCount < 0 {
		return errors.New("size and debt thresholds must be positive")
	}
	if c.Thresholds.DuplicationRatio <= 0 || c.Thresholds.DuplicationRatio > 1 {
		return errors.New("duplication threshold must be in (0,1]")
	}
	if c.Thresholds.ComplianceScore <= 0 || c.Thresholds.ComplianceScore > 1 {
		return errors.New("compliance threshold must be in (0,1]")
	}
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SLO <= 0 {
		c.SLO = DefaultSLO
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.HealthFloor == 0 {
		c.HealthFloor = DefaultHealthFloor
	}
	return nil
}
