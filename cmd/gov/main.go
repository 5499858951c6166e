// Command gov is the governance CLI: rule enforcement, the growth monitor,
// hook ingestion, aggregation, compliance, prediction and the dashboard.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/config"
	"github.com/steveyegge/governor/internal/logging"
	"github.com/steveyegge/governor/internal/metrics"
	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/storage/sqlite"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes shared by every command.
const (
	exitOK       = 0
	exitBlocked  = 1
	exitAdvisory = 2
)

var (
	configPath  string
	verbose     bool
	projectRoot string
	cfg         *config.Config
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "gov",
	Short:         "Governance enforcement and telemetry",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New(os.Stderr, verbose)
		slog.SetDefault(logger)
		metrics.BuildInfo.WithLabelValues(version, commit).Set(1)
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		var err error
		cfg, projectRoot, err = loadConfig(configPath)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <project>/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// loadConfig finds the project root from the working directory unless an
// explicit config file is given, in which case the parent of its state
// directory is the root.
func loadConfig(path string) (*config.Config, string, error) {
	var root string
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		if root, err = storage.FindProjectRoot(wd); err != nil {
			return nil, "", err
		}
		path = filepath.Join(root, config.DefaultPath)
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", err
		}
		path = abs
		if root, err = storage.GetProjectRoot(abs); err != nil {
			// A config kept outside the state directory applies to the
			// working directory.
			if root, err = os.Getwd(); err != nil {
				return nil, "", err
			}
		}
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	c.Rebase(root)
	return c, root, nil
}

func openStore() (*sqlite.SQLiteStorage, error) {
	s, err := sqlite.New(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func printOK(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", green("✓"), fmt.Sprintf(format, a...))
}

func printWarn(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", yellow("!"), fmt.Sprintf(format, a...))
}

func printFail(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", red("✗"), fmt.Sprintf(format, a...))
}

// exitError carries a non-default exit status out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int) error { return &exitError{code: code} }

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			printFail(os.Stderr, "%v", ee.err)
		}
		os.Exit(ee.code)
	}
	printFail(os.Stderr, "Error: %v", err)
	os.Exit(exitBlocked)
}
