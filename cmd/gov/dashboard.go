package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/dashboard"
	"github.com/steveyegge/governor/internal/storage/sqlite"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render the static HTML dashboard",
	Long: `Render a self-contained HTML page from the store and the latest dashboard
feed. Nothing is fetched from the network when the page is viewed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		toStdout, _ := cmd.Flags().GetBool("stdout")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		r, err := newRenderer(store)
		if err != nil {
			return err
		}
		if toStdout {
			return r.Render(cmd.Context(), cmd.OutOrStdout())
		}
		if outPath == "" {
			outPath = cfg.Paths.Dashboard
		}
		if err := r.WriteFile(cmd.Context(), outPath); err != nil {
			return err
		}
		printOK(cmd.OutOrStdout(), "Dashboard written to %s", rel(outPath))
		return nil
	},
}

func init() {
	dashboardCmd.Flags().String("out", "", "Output file (default from config)")
	dashboardCmd.Flags().Bool("stdout", false, "Write the page to stdout")
	rootCmd.AddCommand(dashboardCmd)
}

func newRenderer(store *sqlite.SQLiteStorage) (*dashboard.Renderer, error) {
	return dashboard.New(dashboard.Config{
		Store:    store,
		Logger:   logger,
		FeedPath: cfg.Paths.DashboardFeed,
		Window:   cfg.Aggregator.Window,
	})
}
