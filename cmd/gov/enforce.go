package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/coordinator"
	"github.com/steveyegge/governor/internal/orchestration"
	"github.com/steveyegge/governor/internal/principles"
	"github.com/steveyegge/governor/internal/rules"
	"github.com/steveyegge/governor/internal/storage"
)

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Evaluate operations against the governing rules",
}

var enforceCheckCmd = &cobra.Command{
	Use:   "check <context> <operation> [objective] [commands_csv]",
	Short: "Decide whether an operation is allowed",
	Long: `Run the principle engine and the orchestration enforcer over one
operation and print the unified decision.

Exit status is 1 when the operation is blocked, 2 when only advisories were
raised and 0 otherwise.

Examples:
  gov enforce check "user working in repo root" "create file README.md in root"
  gov enforce check "planning" "run tests" "implement a complex multi-domain refactor" "/build"`,
	Args: cobra.RangeArgs(2, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		req := coordinator.Request{Context: args[0], Operation: args[1]}
		if len(args) > 2 {
			req.Objective = args[2]
		}
		if len(args) > 3 {
			req.Commands = splitCSV(args[3])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		d, err := runCheck(cmd.Context(), store, req)
		if err != nil {
			return err
		}
		if asJSON {
			if err := printJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
		} else {
			printDecision(cmd.OutOrStdout(), d)
		}
		if code := d.ExitCode(); code != exitOK {
			return withCode(code)
		}
		return nil
	},
}

var enforceStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rule counts and recent violations",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		asJSON, _ := cmd.Flags().GetBool("json")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		engine, err := principles.NewEngine(principles.Config{Store: store, Logger: logger})
		if err != nil {
			return err
		}
		stats, err := engine.Stats(cmd.Context(), hours)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		printRuleStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var enforceRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-extract rules from the governing document",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		engine, err := principles.NewEngine(principles.Config{Store: store, Logger: logger})
		if err != nil {
			return err
		}
		n, err := engine.Refresh(cmd.Context(), cfg.Paths.GoverningDoc)
		if err != nil {
			return err
		}
		printOK(cmd.OutOrStdout(), "Extracted %d rules from %s", n, rel(cfg.Paths.GoverningDoc))
		return nil
	},
}

var enforceResolveCmd = &cobra.Command{
	Use:   "resolve <violation-id>",
	Short: "Mark a violation as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid violation id %q", args[0])
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ResolveViolation(cmd.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("violation %d not found", id)
			}
			return err
		}
		printOK(cmd.OutOrStdout(), "Violation %d resolved", id)
		return nil
	},
}

func init() {
	enforceCheckCmd.Flags().Bool("json", false, "Print the decision as JSON")
	enforceStatsCmd.Flags().Int("hours", 24, "Violation window in hours")
	enforceStatsCmd.Flags().Bool("json", false, "Print statistics as JSON")
	enforceCmd.AddCommand(enforceCheckCmd, enforceStatsCmd, enforceRefreshCmd, enforceResolveCmd)
	rootCmd.AddCommand(enforceCmd)
}

// newCoordinator wires both engines over store. The rule set is extracted on
// first use so a fresh project enforces its governing document immediately.
func newCoordinator(ctx context.Context, store storage.Storage) (*coordinator.Coordinator, error) {
	engine, err := principles.NewEngine(principles.Config{Store: store, Logger: logger})
	if err != nil {
		return nil, err
	}
	active, err := store.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		if _, err := engine.Refresh(ctx, cfg.Paths.GoverningDoc); err != nil && !errors.Is(err, rules.ErrSourceMissing) {
			logger.Warn("rule extraction failed; enforcing without document rules", "error", err)
		}
	}

	enforcer, err := orchestration.NewEnforcer(ctx, orchestration.Config{
		Store:             store,
		Logger:            logger,
		AvailableCommands: cfg.Enforcement.AvailableCommands,
		UtilizationFloor:  cfg.Enforcement.UtilizationFloor,
		ComplexKeywords:   cfg.Enforcement.ComplexKeywords,
		MultiTaskKeywords: cfg.Enforcement.MultiTaskKeywords,
	})
	if err != nil {
		return nil, err
	}
	return coordinator.New(coordinator.Config{
		Principles:        engine,
		Orchestration:     enforcer,
		Logger:            logger,
		ExtraDenyPatterns: cfg.Enforcement.ExtraDenyPatterns,
	})
}

func runCheck(ctx context.Context, store storage.Storage, req coordinator.Request) (*coordinator.Decision, error) {
	c, err := newCoordinator(ctx, store)
	if err != nil {
		return nil, err
	}
	return c.Decide(ctx, req), nil
}

func printDecision(w io.Writer, d *coordinator.Decision) {
	switch d.Decision {
	case coordinator.DecisionBlock:
		printFail(w, "BLOCKED (confidence %.2f)", d.Confidence)
	case coordinator.DecisionAdvisory:
		printWarn(w, "ADVISORY (confidence %.2f)", d.Confidence)
	default:
		printOK(w, "ALLOWED (confidence %.2f)", d.Confidence)
	}
	if len(d.Violations) > 0 {
		fmt.Fprintf(w, "\nViolations:\n")
		for _, v := range d.Violations {
			fmt.Fprintf(w, "  - %s\n", v)
		}
	}
	if len(d.Remediation) > 0 {
		fmt.Fprintf(w, "\nRemediation:\n")
		for _, r := range d.Remediation {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
	for _, e := range d.Errors {
		fmt.Fprintf(w, "%s\n", gray("degraded: "+e))
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
