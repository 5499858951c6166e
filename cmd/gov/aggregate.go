package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/aggregator"
	"github.com/steveyegge/governor/internal/compliance"
	"github.com/steveyegge/governor/internal/control"
	"github.com/steveyegge/governor/internal/storage"
)

const daemonAggregator = "aggregator"

// refreshTimeout covers one full cycle over a large window.
const refreshTimeout = 2 * time.Minute

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Periodic performance roll-ups and feeds",
	Long: `Roll up instruction and tool timings over a sliding window and write the
dashboard and compliance feeds atomically.`,
}

var aggregateStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the aggregator in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var agg *aggregator.Aggregator
		return runDaemon(cmd.Context(), daemon{
			name: daemonAggregator,
			setup: func() (err error) {
				agg, err = newAggregator(store, cfg.Aggregator.Window)
				return err
			},
			run: func(ctx context.Context) error { return agg.Run(ctx) },
			handle: func(ctx context.Context, c control.Command) (map[string]any, error) {
				switch c.Type {
				case control.CommandRefresh:
					feed, err := agg.RunOnce(ctx)
					if err != nil {
						return nil, err
					}
					return control.DataOf(feed.Overall)
				case control.CommandStats, control.CommandHealth:
					feed, err := aggregator.LoadFeed(cfg.Paths.DashboardFeed)
					if err != nil {
						return nil, err
					}
					return control.DataOf(feed.Overall)
				}
				return nil, control.ErrUnknownCommand
			},
		}, metricsAddr)
	},
}

var aggregateStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running aggregator",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return stopDaemon(cmd.Context(), cmd.OutOrStdout(), daemonAggregator, timeout)
	},
}

var aggregateRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one aggregation cycle now",
	Long: `Run one cycle in the running aggregator, or in this process when no
aggregator is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		client := control.NewClient(cfg.SocketPath(daemonAggregator))
		client.SetTimeout(refreshTimeout)
		_, err := client.Refresh(cmd.Context())
		if err == nil {
			printOK(out, "Feeds refreshed by the running aggregator")
			return nil
		}
		if !errors.Is(err, control.ErrNotRunning) {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		agg, err := newAggregator(store, cfg.Aggregator.Window)
		if err != nil {
			return err
		}
		feed, err := agg.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		printOK(out, "Feeds written (%d instructions, %d tool calls)", feed.Overall.Instructions, feed.Overall.ToolCalls)
		return nil
	},
}

var aggregateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the latest dashboard feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		feed, err := aggregator.LoadFeed(cfg.Paths.DashboardFeed)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no feed at %s yet; run 'gov aggregate refresh'", rel(cfg.Paths.DashboardFeed))
		}
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), feed)
		}
		printFeed(cmd.OutOrStdout(), feed)
		return nil
	},
}

func init() {
	aggregateStartCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	aggregateStopCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for shutdown")
	aggregateStatsCmd.Flags().Bool("json", false, "Print the raw feed")
	aggregateCmd.AddCommand(aggregateStartCmd, aggregateStopCmd, aggregateRefreshCmd, aggregateStatsCmd)
	rootCmd.AddCommand(aggregateCmd)
}

func newAggregator(store storage.Storage, window time.Duration) (*aggregator.Aggregator, error) {
	v, err := compliance.NewValidator(compliance.Config{
		Store:      store,
		Logger:     logger,
		Thresholds: cfg.Compliance.Thresholds,
	})
	if err != nil {
		return nil, err
	}
	return aggregator.New(aggregator.Config{
		Store:          store,
		Logger:         logger,
		DashboardFeed:  cfg.Paths.DashboardFeed,
		ComplianceFeed: cfg.Paths.ComplianceFeed,
		Interval:       cfg.Aggregator.Interval,
		Window:         window,
		GracePeriod:    cfg.Collector.GracePeriod,
		Thresholds:     cfg.Compliance.Thresholds,
		Validator:      v,
	})
}

func printFeed(w io.Writer, f *aggregator.Feed) {
	o := f.Overall
	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== Performance (last %.0fh) ===", f.WindowHours)))
	fmt.Fprintf(w, "Generated: %s\n\n", f.GeneratedAt.UTC().Format(time.RFC3339))

	t := newTable(w, "Metric", "Value")
	t.AppendBulk([][]string{
		{"Instructions", fmt.Sprintf("%d (%d completed, %d in progress, %d terminated)", o.Instructions, o.Completed, o.InProgress, o.Terminated)},
		{"Tool calls", fmt.Sprint(o.ToolCalls)},
		{"Avg instruction time", fmt.Sprintf("%.0f ms", o.AvgMs)},
		{"Avg tool time", fmt.Sprintf("%.1f ms", o.AvgToolMs)},
		{"Success rate", pct(o.SuccessRate)},
		{"Real execution rate", pct(o.RealExecutionRate)},
		{"Transparency rate", pct(o.TransparencyRate)},
		{"Evidence rate", pct(o.EvidenceRate)},
		{"Real work ratio", pct(o.RealWorkRatio)},
		{"Within 30s", pct(f.Thresholds.Within30s)},
		{"Within 2m", pct(f.Thresholds.Within2m)},
	})
	t.Render()

	if len(f.Tools) == 0 {
		return
	}
	names := make([]string, 0, len(f.Tools))
	for name := range f.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w)
	t = newTable(w, "Tool", "Calls", "Avg ms", "Max ms", "Success")
	for _, name := range names {
		s := f.Tools[name]
		t.Append([]string{name, fmt.Sprint(s.Count), fmt.Sprintf("%.1f", s.AvgMs), fmt.Sprint(s.MaxMs), pct(s.SuccessRate)})
	}
	t.Render()
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
