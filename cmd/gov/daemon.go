package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/governor/internal/control"
	"github.com/steveyegge/governor/internal/logging"
)

// daemon is a long-running command reachable over its control socket.
type daemon struct {
	name string
	// setup runs after the log file and PID file are in place and before the
	// control socket opens. Optional.
	setup  func() error
	run    func(ctx context.Context) error
	handle control.Handler
}

// runDaemon holds the PID file and control socket for d while d.run executes.
// SIGINT, SIGTERM and the stop command all cancel the run context.
func runDaemon(ctx context.Context, d daemon, metricsAddr string) error {
	log, closer, err := logging.OpenFile(cfg.Paths.Logs, d.name, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = log

	pidPath := cfg.PIDPath(d.name)
	if _, err := control.AcquirePIDFile(pidPath, d.name); err != nil {
		return err
	}
	defer func() {
		if err := control.ReleasePIDFile(pidPath); err != nil {
			logger.Warn("failed to release pid file", "error", err)
		}
	}()

	if d.setup != nil {
		if err := d.setup(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, err := control.NewServer(cfg.SocketPath(d.name), logger, func(ctx context.Context, cmd control.Command) (map[string]any, error) {
		if cmd.Type == control.CommandStop {
			logger.Info("stop requested over control socket", "daemon", d.name)
			cancel()
			return map[string]any{"stopping": true}, nil
		}
		return d.handle(ctx, cmd)
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.run(gctx) })
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, metricsAddr) })
	}
	logger.Info("daemon started", "daemon", d.name, "pid", os.Getpid(), "socket", srv.SocketPath())
	err = g.Wait()
	logger.Info("daemon stopped", "daemon", d.name)
	return err
}

func serveMetrics(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// stopDaemon asks the daemon to stop over its socket, falling back to SIGTERM
// when the socket is gone but the process is alive, and waits for the PID
// file to disappear.
func stopDaemon(ctx context.Context, out io.Writer, name string, timeout time.Duration) error {
	pidPath := cfg.PIDPath(name)
	_, err := control.NewClient(cfg.SocketPath(name)).Stop(ctx)
	if errors.Is(err, control.ErrNotRunning) {
		p, perr := control.ReadPIDFile(pidPath)
		if perr != nil || !p.Alive() {
			printWarn(out, "No running %s found", name)
			if perr == nil {
				_ = os.Remove(pidPath)
			}
			return nil
		}
		fmt.Fprintf(out, "Control socket unavailable; sending SIGTERM to PID %d...\n", p.PID)
		if err := syscall.Kill(p.PID, syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal %s: %w", name, err)
		}
	} else if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidPath); errors.Is(err, os.ErrNotExist) {
			printOK(out, "%s stopped", name)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("%s did not stop within %s", name, timeout)
}

// queryDaemon sends one command and returns the response payload.
func queryDaemon(ctx context.Context, name, cmdType string) (map[string]any, error) {
	resp, err := control.NewClient(cfg.SocketPath(name)).Send(ctx, control.Command{Type: cmdType})
	if errors.Is(err, control.ErrNotRunning) {
		return nil, fmt.Errorf("%s is not running (start it with 'gov %s start')", name, commandFor(name))
	}
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func commandFor(daemon string) string {
	if daemon == daemonAggregator {
		return "aggregate"
	}
	return daemon
}

// printData renders a flat response payload as a two-column table.
func printData(w io.Writer, title string, data map[string]any) {
	fmt.Fprintf(w, "\n%s\n", cyan(title))
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := newTable(w, "Metric", "Value")
	for _, k := range keys {
		t.Append([]string{k, formatValue(data[k])})
	}
	t.Render()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.3f", x)
	case nil:
		return "-"
	}
	return fmt.Sprint(v)
}
