package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/config"
	"github.com/steveyegge/governor/internal/principles"
	"github.com/steveyegge/governor/internal/rules"
	"github.com/steveyegge/governor/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize governance state in a project",
	Long: `Create the .governor state directory, a default config file and the
database, then extract rules from the governing document if it exists.

Example:
  $ gov init
  ✓ Created .governor/config.yaml
  ✓ Database ready at .governor/governor.db
  ✓ Extracted 42 rules from CLAUDE.md`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return initProject(cmd.Context(), cmd.OutOrStdout(), dir)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initProject(ctx context.Context, out io.Writer, dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := storage.InitProject(root); err != nil {
		return err
	}

	path := filepath.Join(root, config.DefaultPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(path, config.Default()); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		printOK(out, "Created %s", config.DefaultPath)
	} else {
		printOK(out, "Keeping existing %s", config.DefaultPath)
	}

	if cfg, err = config.Load(path); err != nil {
		return err
	}
	cfg.Rebase(root)
	projectRoot = root

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	printOK(out, "Database ready at %s", rel(cfg.Paths.Database))

	engine, err := principles.NewEngine(principles.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	n, err := engine.Refresh(ctx, cfg.Paths.GoverningDoc)
	switch {
	case errors.Is(err, rules.ErrSourceMissing):
		printWarn(out, "No governing document at %s; run 'gov enforce refresh' once it exists", rel(cfg.Paths.GoverningDoc))
	case err != nil:
		return err
	default:
		printOK(out, "Extracted %d rules from %s", n, rel(cfg.Paths.GoverningDoc))
	}
	return nil
}

// rel shortens path for display when it lies inside the project.
func rel(path string) string {
	if projectRoot == "" {
		return path
	}
	if r, err := filepath.Rel(projectRoot, path); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return path
}
