package main

import (
	"context"
	"io"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/collector"
	"github.com/steveyegge/governor/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Ingest one hook event from stdin",
	Long: `Read one JSON hook event on stdin, record its timing and forward it to
the observer when one is configured.

Exit status is 1 only when stdin is not a valid hook event; every other
failure is logged and the host is never held past the hook deadline.

Example hook configuration:
  {"hooks": {"PostToolUse": [{"hooks": [{"type": "command", "command": "gov hook"}]}]}}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if code := runHook(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); code != hooks.ExitOK {
			return withCode(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// runHook returns the exit status for the host. A broken store degrades to
// validating the event only.
func runHook(ctx context.Context, stdin io.Reader, stdout io.Writer) int {
	clock := clockwork.NewRealClock()
	store, err := openStore()
	if err != nil {
		logger.Error("hook store unavailable; event not recorded", "error", err)
		if _, perr := hooks.ParseEvent(stdin, clock.Now()); perr != nil {
			logger.Error("rejecting hook input", "error", perr)
			return hooks.ExitParseError
		}
		return hooks.ExitOK
	}
	defer store.Close()

	coll, err := collector.New(collector.Config{
		Store:       store,
		Logger:      logger,
		Clock:       clock,
		ScratchDir:  cfg.Paths.Scratch,
		GracePeriod: cfg.Collector.GracePeriod,
	})
	if err != nil {
		logger.Error("hook collector unavailable", "error", err)
		return hooks.ExitOK
	}

	hc := hooks.Config{
		Collector: coll,
		Log:       hooks.NewEventLog(filepath.Join(cfg.Paths.Logs, "hooks")),
		Logger:    logger,
		Clock:     clock,
		Enforce:   cfg.Hooks.Enforce,
		Deadline:  cfg.Hooks.Deadline,
	}
	if cfg.Hooks.ObserverURL != "" {
		hc.Observer = hooks.NewObserverClient(cfg.Hooks.ObserverURL, nil)
	}
	if hc.Enforce {
		if hc.Decider, err = newCoordinator(ctx, store); err != nil {
			logger.Warn("advisories disabled; coordinator unavailable", "error", err)
			hc.Enforce = false
		}
	}

	bridge, err := hooks.NewBridge(hc)
	if err != nil {
		logger.Error("hook bridge unavailable", "error", err)
		return hooks.ExitOK
	}
	return bridge.Run(ctx, stdin, stdout)
}
