// Package config loads the governor configuration from a YAML file and
// applies GOVERNOR_* environment overrides on top.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/steveyegge/governor/internal/aggregator"
	"github.com/steveyegge/governor/internal/collector"
	"github.com/steveyegge/governor/internal/compliance"
	"github.com/steveyegge/governor/internal/health"
	"github.com/steveyegge/governor/internal/hooks"
	"github.com/steveyegge/governor/internal/orchestration"
	"github.com/steveyegge/governor/internal/predict"
)

const (
	// DefaultStateDir holds the database, feeds, logs and control sockets.
	DefaultStateDir = ".governor"
	// DefaultPath is the config file location relative to the project root.
	DefaultPath = DefaultStateDir + "/config.yaml"
)

// Config is the root configuration.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Hooks       HooksConfig       `yaml:"hooks"`
	Collector   CollectorConfig   `yaml:"collector"`
	Aggregator  AggregatorConfig  `yaml:"aggregator"`
	Compliance  ComplianceConfig  `yaml:"compliance"`
	Predict     PredictConfig     `yaml:"predict"`
	Observer    ObserverConfig    `yaml:"observer"`
}

// PathsConfig groups filesystem locations. Empty entries are derived from
// StateDir by Resolve.
type PathsConfig struct {
	StateDir       string `yaml:"state_dir" split_words:"true"`
	Database       string `yaml:"database" split_words:"true"`
	GoverningDoc   string `yaml:"governing_doc" split_words:"true"`
	DashboardFeed  string `yaml:"dashboard_feed" split_words:"true"`
	ComplianceFeed string `yaml:"compliance_feed" split_words:"true"`
	Dashboard      string `yaml:"dashboard" split_words:"true"`
	Alerts         string `yaml:"alerts" split_words:"true"`
	Logs           string `yaml:"logs" split_words:"true"`
	Scratch        string `yaml:"scratch" split_words:"true"`
	Models         string `yaml:"models" split_words:"true"`
}

// EnforcementConfig tunes the principle engine, the orchestration enforcer
// and the coordinator.
type EnforcementConfig struct {
	AvailableCommands []string `yaml:"available_commands" split_words:"true"`
	UtilizationFloor  float64  `yaml:"utilization_floor" split_words:"true"`
	ComplexKeywords   []string `yaml:"complex_keywords" split_words:"true"`
	MultiTaskKeywords []string `yaml:"multi_task_keywords" split_words:"true"`
	ExtraDenyPatterns []string `yaml:"extra_deny_patterns" split_words:"true"`
}

type MonitorConfig struct {
	Root            string            `yaml:"root" split_words:"true"`
	Patterns        []string          `yaml:"patterns" split_words:"true"`
	ExcludePatterns []string          `yaml:"exclude_patterns" split_words:"true"`
	Thresholds      health.Thresholds `yaml:"thresholds" ignored:"true"`
	Debounce        time.Duration     `yaml:"debounce" split_words:"true"`
	QueueSize       int               `yaml:"queue_size" split_words:"true"`
	Workers         int               `yaml:"workers" split_words:"true"`
	SLO             time.Duration     `yaml:"slo" split_words:"true"`
	PollInterval    time.Duration     `yaml:"poll_interval" split_words:"true"`
	HealthInterval  time.Duration     `yaml:"health_interval" split_words:"true"`
	HealthFloor     float64           `yaml:"health_floor" split_words:"true"`
	ForcePolling    bool              `yaml:"force_polling" split_words:"true"`

	// RemediatorCommand is run as `cmd... <kind> <path>`. Empty disables it.
	RemediatorCommand  []string      `yaml:"remediator_command" split_words:"true"`
	RemediatorInterval time.Duration `yaml:"remediator_interval" split_words:"true"`
}

type HooksConfig struct {
	Deadline    time.Duration `yaml:"deadline" split_words:"true"`
	ObserverURL string        `yaml:"observer_url" split_words:"true"`
	Enforce     bool          `yaml:"enforce" split_words:"true"`
}

type CollectorConfig struct {
	GracePeriod time.Duration `yaml:"grace_period" split_words:"true"`
}

type AggregatorConfig struct {
	Interval time.Duration `yaml:"interval" split_words:"true"`
	Window   time.Duration `yaml:"window" split_words:"true"`
}

type ComplianceConfig struct {
	Thresholds compliance.Thresholds `yaml:"thresholds" ignored:"true"`
}

type PredictConfig struct {
	HorizonHours   int           `yaml:"horizon_hours" split_words:"true"`
	TargetAccuracy float64       `yaml:"target_accuracy" split_words:"true"`
	MetricTypes    []string      `yaml:"metric_types" split_words:"true"`
	TrainingWindow time.Duration `yaml:"training_window" split_words:"true"`
	SampleInterval time.Duration `yaml:"sample_interval" split_words:"true"`
	Seed           uint64        `yaml:"seed" split_words:"true"`
}

type ObserverConfig struct {
	Listen string `yaml:"listen" split_words:"true"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			StateDir:     DefaultStateDir,
			GoverningDoc: "CLAUDE.md",
		},
		Enforcement: EnforcementConfig{
			AvailableCommands: orchestration.DefaultAvailableCommands,
			UtilizationFloor:  0.70,
			ComplexKeywords:   orchestration.DefaultComplexKeywords,
			MultiTaskKeywords: orchestration.DefaultMultiTaskKeywords,
		},
		Monitor: MonitorConfig{
			Root:               ".",
			Patterns:           health.DefaultPatterns,
			ExcludePatterns:    health.DefaultExcludePatterns,
			Thresholds:         health.DefaultThresholds(),
			Debounce:           health.DefaultDebounce,
			QueueSize:          health.DefaultQueueSize,
			Workers:            health.DefaultWorkers,
			SLO:                health.DefaultSLO,
			PollInterval:       health.DefaultPollInterval,
			HealthInterval:     health.DefaultHealthInterval,
			HealthFloor:        health.DefaultHealthFloor,
			RemediatorInterval: 10 * time.Second,
		},
		Hooks: HooksConfig{
			Deadline: hooks.DefaultDeadline,
		},
		Collector: CollectorConfig{
			GracePeriod: collector.DefaultGracePeriod,
		},
		Aggregator: AggregatorConfig{
			Interval: aggregator.DefaultInterval,
			Window:   aggregator.DefaultWindow,
		},
		Compliance: ComplianceConfig{
			Thresholds: compliance.DefaultThresholds(),
		},
		Predict: PredictConfig{
			HorizonHours:   predict.DefaultHorizonHours,
			TargetAccuracy: predict.DefaultTargetAccuracy,
			MetricTypes:    predict.DefaultMetricTypes,
			TrainingWindow: predict.DefaultTrainingWindow,
			SampleInterval: predict.DefaultSampleInterval,
			Seed:           predict.DefaultSeed,
		},
		Observer: ObserverConfig{
			Listen: "127.0.0.1:7777",
		},
	}
}

// Resolve fills derived paths from StateDir.
func (c *Config) Resolve() {
	p := &c.Paths
	if p.StateDir == "" {
		p.StateDir = DefaultStateDir
	}
	derive := func(dst *string, parts ...string) {
		if *dst == "" {
			*dst = filepath.Join(append([]string{p.StateDir}, parts...)...)
		}
	}
	derive(&p.Database, "governor.db")
	derive(&p.DashboardFeed, "feeds", "dashboard.json")
	derive(&p.ComplianceFeed, "feeds", "compliance.json")
	derive(&p.Dashboard, "dashboard.html")
	derive(&p.Alerts, "alerts")
	derive(&p.Logs, "logs")
	derive(&p.Scratch, "scratch")
	derive(&p.Models, "models")
}

// Rebase anchors relative paths at root, the project directory. Commands run
// from any subdirectory of the project, so relative paths in the file are
// read as relative to the project, not the working directory.
func (c *Config) Rebase(root string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
	p := &c.Paths
	for _, f := range []*string{&p.StateDir, &p.Database, &p.GoverningDoc, &p.DashboardFeed,
		&p.ComplianceFeed, &p.Dashboard, &p.Alerts, &p.Logs, &p.Scratch, &p.Models} {
		abs(f)
	}
	abs(&c.Monitor.Root)
}

// SocketPath is the control socket of the named daemon.
func (c *Config) SocketPath(daemon string) string {
	return filepath.Join(c.Paths.StateDir, daemon+".sock")
}

// PIDPath is the PID lock file of the named daemon.
func (c *Config) PIDPath(daemon string) string {
	return filepath.Join(c.Paths.StateDir, daemon+".pid")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Paths.GoverningDoc == "" {
		return fmt.Errorf("paths.governing_doc is required")
	}

	e := c.Enforcement
	if e.UtilizationFloor <= 0 || e.UtilizationFloor > 1 {
		return fmt.Errorf("enforcement.utilization_floor must be between 0 and 1 (got %v)", e.UtilizationFloor)
	}
	if len(e.AvailableCommands) == 0 {
		return fmt.Errorf("enforcement.available_commands cannot be empty")
	}

	m := c.Monitor
	if m.Root == "" {
		return fmt.Errorf("monitor.root is required")
	}
	if m.QueueSize < 1 || m.QueueSize > 100000 {
		return fmt.Errorf("monitor.queue_size must be between 1 and 100000 (got %d)", m.QueueSize)
	}
	if m.Workers < 1 || m.Workers > 64 {
		return fmt.Errorf("monitor.workers must be between 1 and 64 (got %d)", m.Workers)
	}
	if m.Debounce < 0 || m.Debounce > time.Minute {
		return fmt.Errorf("monitor.debounce must be between 0 and 1m (got %v)", m.Debounce)
	}
	if m.SLO < 100*time.Millisecond {
		return fmt.Errorf("monitor.slo must be at least 100ms (got %v)", m.SLO)
	}
	if m.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("monitor.poll_interval must be at least 10ms (got %v)", m.PollInterval)
	}
	if m.HealthInterval < time.Second {
		return fmt.Errorf("monitor.health_interval must be at least 1s (got %v)", m.HealthInterval)
	}
	if m.HealthFloor <= 0 || m.HealthFloor > 1 {
		return fmt.Errorf("monitor.health_floor must be between 0 and 1 (got %v)", m.HealthFloor)
	}

	if c.Hooks.Deadline < time.Second || c.Hooks.Deadline > 5*time.Minute {
		return fmt.Errorf("hooks.deadline must be between 1s and 5m (got %v)", c.Hooks.Deadline)
	}
	if c.Collector.GracePeriod < time.Minute || c.Collector.GracePeriod > 24*time.Hour {
		return fmt.Errorf("collector.grace_period must be between 1m and 24h (got %v)", c.Collector.GracePeriod)
	}

	a := c.Aggregator
	if a.Interval < time.Second || a.Interval > time.Hour {
		return fmt.Errorf("aggregator.interval must be between 1s and 1h (got %v)", a.Interval)
	}
	if a.Window < time.Hour || a.Window > 30*24*time.Hour {
		return fmt.Errorf("aggregator.window must be between 1h and 720h (got %v)", a.Window)
	}

	if err := c.Compliance.Thresholds.Validate(); err != nil {
		return fmt.Errorf("compliance.thresholds: %w", err)
	}

	p := c.Predict
	if p.HorizonHours < 1 || p.HorizonHours > 168 {
		return fmt.Errorf("predict.horizon_hours must be between 1 and 168 (got %d)", p.HorizonHours)
	}
	if p.TargetAccuracy <= 0 || p.TargetAccuracy > 1 {
		return fmt.Errorf("predict.target_accuracy must be between 0 and 1 (got %v)", p.TargetAccuracy)
	}
	if len(p.MetricTypes) == 0 {
		return fmt.Errorf("predict.metric_types cannot be empty")
	}

	if c.Observer.Listen == "" {
		return fmt.Errorf("observer.listen is required")
	}
	return nil
}
