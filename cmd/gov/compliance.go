package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/aggregator"
	"github.com/steveyegge/governor/internal/compliance"
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Validate the P55 and P56 protocols",
	Long: `Aggregate the recent window and judge it against the P55 (real execution)
and P56 (transparency and evidence) thresholds. Results are recorded as metric
rows. Exit status is 2 when either protocol fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetFloat64("window")
		asJSON, _ := cmd.Flags().GetBool("json")
		if hours < 1 {
			return fmt.Errorf("--window must be at least 1 hour")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		agg, err := newAggregator(store, time.Duration(hours*float64(time.Hour)))
		if err != nil {
			return err
		}
		feed, _, err := agg.Compute(cmd.Context())
		if err != nil {
			return err
		}
		v, err := compliance.NewValidator(compliance.Config{
			Store:      store,
			Logger:     logger,
			Thresholds: cfg.Compliance.Thresholds,
		})
		if err != nil {
			return err
		}
		report := v.Run(cmd.Context(), feed.Measurements())

		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			printReport(out, report, hours)
		}
		if code := report.ExitCode(); code != exitOK {
			return withCode(code)
		}
		return nil
	},
}

var complianceLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the report from the last aggregation cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		f, err := aggregator.LoadComplianceFeed(cfg.Paths.ComplianceFeed)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no compliance feed at %s yet; run 'gov aggregate refresh'", rel(cfg.Paths.ComplianceFeed))
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, f); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Generated: %s\n", f.GeneratedAt.UTC().Format(time.RFC3339))
			printReport(out, f.Report, f.WindowHours)
		}
		if code := f.Report.ExitCode(); code != exitOK {
			return withCode(code)
		}
		return nil
	},
}

var complianceHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded protocol and combined scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		v, err := compliance.NewValidator(compliance.Config{Store: store, Logger: logger, Thresholds: cfg.Compliance.Thresholds})
		if err != nil {
			return err
		}
		rows, err := v.History(cmd.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintln(out, gray("No compliance runs recorded"))
			return nil
		}
		t := newTable(out, "Time", "Metric", "Score", "Compliant")
		for _, r := range rows {
			ok := green("yes")
			if !r.Compliant {
				ok = red("no")
			}
			t.Append([]string{r.Timestamp.Local().Format("01-02 15:04"), r.MetricType, fmt.Sprintf("%.2f%%", r.Value), ok})
		}
		t.Render()
		return nil
	},
}

func init() {
	complianceCmd.Flags().Float64("window", 24, "Window in hours")
	complianceCmd.Flags().Bool("json", false, "Print the report as JSON")
	complianceLatestCmd.Flags().Bool("json", false, "Print the feed as JSON")
	complianceHistoryCmd.Flags().Int("hours", 24*7, "How far back to look")
	complianceCmd.AddCommand(complianceLatestCmd, complianceHistoryCmd)
	rootCmd.AddCommand(complianceCmd)
}

func printReport(w io.Writer, r *compliance.Report, hours float64) {
	fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== Protocol Compliance (last %.0fh) ===", hours)))
	fmt.Fprintf(w, "Instructions: %d  Tool calls: %d\n\n", r.Measurements.Instructions, r.Measurements.ToolCalls)

	t := newTable(w, "Protocol", "Check", "Value", "Threshold", "Result")
	for _, p := range []compliance.ProtocolResult{r.P55, r.P56} {
		for _, c := range p.Checks {
			result := green("PASS")
			if !c.Passed {
				result = red("FAIL")
			}
			name := c.Name
			if c.Name == compliance.CheckVisualAnnouncementRate && r.VisualSource == "assumed" {
				name += " (assumed)"
			}
			t.Append([]string{p.Protocol, name, formatCheck(c, c.Value), formatCheck(c, c.Threshold), result})
		}
	}
	t.Render()

	fmt.Fprintf(w, "\nP55: %.2f%%  P56: %.2f%%  Combined: %.2f%%\n", r.P55.Score, r.P56.Score, r.CombinedScore)
	if r.Compliant {
		printOK(w, "Compliant")
		return
	}
	printFail(w, "Non-compliant (%d violations)", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  - %s\n", v)
	}
}

func formatCheck(c compliance.Check, v float64) string {
	if c.Unit == "%" {
		return pct(v)
	}
	return fmt.Sprintf("%.1f %s", v, c.Unit)
}
