package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/observer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local observer endpoint",
	Long: `Accept hook telemetry on /api/hooks/{event,metric,performance} and serve
the live dashboard, the latest feed and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Observer.Listen
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		r, err := newRenderer(store)
		if err != nil {
			return err
		}
		srv, err := observer.New(observer.Config{
			Logger:    logger,
			Dashboard: r,
			FeedPath:  cfg.Paths.DashboardFeed,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		printOK(cmd.OutOrStdout(), "Observer listening on http://%s", listen)
		return srv.ListenAndServe(ctx, listen)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
