package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/control"
	"github.com/steveyegge/governor/internal/health"
	"github.com/steveyegge/governor/internal/storage"
)

const daemonMonitor = "monitor"

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Growth governance monitor",
	Long: `Watch the project tree and record threshold events when files grow past
their size, duplication, technical-debt or navigation limits.`,
}

var monitorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the monitor in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if poll, _ := cmd.Flags().GetBool("poll"); poll {
			cfg.Monitor.ForcePolling = true
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var m *health.Monitor
		return runDaemon(cmd.Context(), daemon{
			name: daemonMonitor,
			setup: func() (err error) {
				m, err = newMonitor(store)
				return err
			},
			run: func(ctx context.Context) error { return m.Run(ctx) },
			handle: func(ctx context.Context, c control.Command) (map[string]any, error) {
				switch c.Type {
				case control.CommandHealth:
					return control.DataOf(m.CollectHealth(ctx))
				case control.CommandStats:
					return control.DataOf(monitorStats{Stats: m.Stats(), Tree: m.Registry().Tree(cfg.Monitor.Thresholds)})
				}
				return nil, control.ErrUnknownCommand
			},
		}, metricsAddr)
	},
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return stopDaemon(cmd.Context(), cmd.OutOrStdout(), daemonMonitor, timeout)
	},
}

var monitorHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Collect and print the monitor health score",
	Long: `Ask the running monitor to collect its health score. Exit status is 2
when the score is below the configured floor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := queryDaemon(cmd.Context(), daemonMonitor, control.CommandHealth)
		if err != nil {
			return err
		}
		printData(cmd.OutOrStdout(), "=== Monitor Health ===", data)
		if score, ok := data["health_score"].(float64); ok && score < cfg.Monitor.HealthFloor {
			printWarn(cmd.OutOrStdout(), "Health score %.2f is below the %.2f floor", score, cfg.Monitor.HealthFloor)
			return withCode(exitAdvisory)
		}
		return nil
	},
}

var monitorStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print pipeline and tree statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := queryDaemon(cmd.Context(), daemonMonitor, control.CommandStats)
		if err != nil {
			return err
		}
		tree, _ := data["tree"].(map[string]any)
		delete(data, "tree")
		printData(cmd.OutOrStdout(), "=== Monitor Pipeline ===", data)
		if tree != nil {
			printData(cmd.OutOrStdout(), "=== Tracked Tree ===", tree)
		}
		return nil
	},
}

func init() {
	monitorStartCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	monitorStartCmd.Flags().Bool("poll", false, "Scan periodically instead of subscribing to file events")
	monitorStopCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for shutdown")
	monitorCmd.AddCommand(monitorStartCmd, monitorStopCmd, monitorHealthCmd, monitorStatsCmd)
	rootCmd.AddCommand(monitorCmd)
}

type monitorStats struct {
	health.Stats
	Tree health.TreeMetrics `json:"tree"`
}

func newMonitor(store storage.Storage) (*health.Monitor, error) {
	mc := cfg.Monitor
	var remediator *health.Remediator
	if len(mc.RemediatorCommand) > 0 {
		var err error
		remediator, err = health.NewRemediator(health.RemediatorConfig{
			Logger:   logger,
			Command:  mc.RemediatorCommand,
			Interval: mc.RemediatorInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("remediator: %w", err)
		}
	}
	return health.New(health.Config{
		Store:           store,
		Logger:          logger,
		Root:            mc.Root,
		Patterns:        mc.Patterns,
		ExcludePatterns: mc.ExcludePatterns,
		Thresholds:      mc.Thresholds,
		Debounce:        mc.Debounce,
		QueueSize:       mc.QueueSize,
		Workers:         mc.Workers,
		SLO:             mc.SLO,
		PollInterval:    mc.PollInterval,
		HealthInterval:  mc.HealthInterval,
		HealthFloor:     mc.HealthFloor,
		ForcePolling:    mc.ForcePolling,
		AlertsDir:       cfg.Paths.Alerts,
		StatePath:       filepath.Join(cfg.Paths.StateDir, "monitor_state.json"),
		Remediator:      remediator,
	})
}
