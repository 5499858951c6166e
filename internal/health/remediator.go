package health

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"golang.org/x/time/rate"

	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/types"
)

const (
	defaultRemediatorConcurrency = 2
	defaultRemediatorTimeout     = 2 * time.Minute
	defaultRemediatorInterval    = 10 * time.Second
	defaultRemediatorBurst       = 3
)

type RemediatorConfig struct {
	Logger *slog.Logger

	// Command is the executable and leading arguments. The event kind and
	// the file path are appended on each invocation.
	Command []string

	// Optional with defaults.
	Concurrency int
	Timeout     time.Duration
	Interval    time.Duration // minimum spacing between invocations
	Burst       int
}

func (c *RemediatorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return errors.New("command is required")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultRemediatorConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultRemediatorTimeout
	}
	if c.Interval <= 0 {
		c.Interval = defaultRemediatorInterval
	}
	if c.Burst <= 0 {
		c.Burst = defaultRemediatorBurst
	}
	return nil
}

// Remediator runs an external command for remediable threshold events.
// Trigger never waits for the command.
type Remediator struct {
	cfg     RemediatorConfig
	log     *slog.Logger
	pool    pond.Pool
	limiter *rate.Limiter

	mu      sync.Mutex
	stopped bool
}

func NewRemediator(cfg RemediatorConfig) (*Remediator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Remediator{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "remediator"),
		pool:    pond.NewPool(cfg.Concurrency),
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), cfg.Burst),
	}, nil
}

// Trigger schedules the command for (kind, path). It returns false when the
// kind is not remediable, the rate limit is exhausted or the remediator is
// stopped.
func (r *Remediator) Trigger(kind types.ThresholdEventKind, path string) bool {
	if !remediable[kind] {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	if !r.limiter.Allow() {
		metrics.RemediationsStarted.WithLabelValues("rate_limited").Inc()
		r.log.Debug("remediation skipped by rate limit", "kind", kind, "path", path)
		return false
	}

	args := append(append([]string(nil), r.cfg.Command[1:]...), string(kind), path)
	r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, r.cfg.Command[0], args...).CombinedOutput()
		if err != nil {
			metrics.RemediationsStarted.WithLabelValues("failed").Inc()
			r.log.Warn("remediator failed", "kind", kind, "path", path, "error", err, "output", types.Truncate(string(out), 200))
			return
		}
		metrics.RemediationsStarted.WithLabelValues("ok").Inc()
		r.log.Info("remediator finished", "kind", kind, "path", path)
	})
	return true
}

// Stop waits for running invocations and rejects new ones.
func (r *Remediator) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	r.pool.StopAndWait()
}
