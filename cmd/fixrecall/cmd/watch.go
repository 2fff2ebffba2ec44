package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/async"
	"github.com/Aman-CERP/fixrecall/internal/config"
	"github.com/Aman-CERP/fixrecall/internal/watcher"
)

type watchOptions struct {
	metricsAddr  string
	initial      bool
	syncInterval time.Duration
	forcePolling bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reindex automatically when local incident files change",
		Long: `Watch every local source directory and reindex when files are added,
changed or removed. Bursts of changes are debounced (watch.debounce) into
one reindex; a change that lands during a reindex queues exactly one more.

Remote sources (GitHub issues and wikis) are refreshed every
--sync-interval when it is set. Prometheus metrics are served on
--metrics-addr at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "127.0.0.1:9464", "Address for the /metrics endpoint (empty disables it)")
	cmd.Flags().BoolVar(&opts.initial, "initial", true, "Reindex once at startup")
	cmd.Flags().DurationVar(&opts.syncInterval, "sync-interval", 0, "Periodic reindex interval for remote sources (0 disables)")
	cmd.Flags().BoolVar(&opts.forcePolling, "poll", false, "Poll directories instead of using file system notifications")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts watchOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := newWriter(cmd, false)

	reindexer := async.NewReindexer(ctx, a.rebuild)
	defer func() { _ = reindexer.Close() }()
	if opts.initial {
		reindexer.Trigger()
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           metricsHandler(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics_server_failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		out.Statusf("📈", "Metrics on http://%s/metrics", opts.metricsAddr)
	}

	if opts.syncInterval > 0 {
		go syncLoop(ctx, reindexer, opts.syncInterval)
	}

	roots, exts := localRoots(a.cfg)
	if len(roots) == 0 {
		out.Status("ℹ️ ", "No local sources to watch; waiting for the sync interval")
		<-ctx.Done()
		return nil
	}

	w, err := watcher.New(watcher.Options{
		Debounce:     a.cfg.Watch.Debounce,
		Extensions:   exts,
		ForcePolling: opts.forcePolling,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	go watcher.AutoReindex(ctx, w, reindexer)

	out.Statusf("👀", "Watching %d director%s (Ctrl+C to stop)", len(roots), plural(len(roots), "y", "ies"))
	if err := w.Start(ctx, roots...); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if n := w.DroppedBatches(); n > 0 {
		out.Warningf("%d change batches arrived while a reindex was already queued", n)
	}
	out.Status("", "Stopped")
	return nil
}

// metricsHandler serves the app's Prometheus registry.
func metricsHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func syncLoop(ctx context.Context, t watcher.Trigger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ack := t.Trigger()
			slog.Info("sync_reindex_triggered", slog.Bool("coalesced", ack.Coalesced))
		}
	}
}

// localRoots returns the local source directories and the union of their
// extensions. An empty extension list on any source accepts every file.
func localRoots(cfg *config.Config) ([]string, []string) {
	var roots, exts []string
	seen := make(map[string]bool)
	acceptAll := false
	for _, l := range cfg.Sources.Local {
		if l.Path == "" {
			continue
		}
		roots = append(roots, l.Path)
		if len(l.Extensions) == 0 {
			acceptAll = true
		}
		for _, e := range l.Extensions {
			if !seen[e] {
				seen[e] = true
				exts = append(exts, e)
			}
		}
	}
	if acceptAll {
		exts = nil
	}
	return roots, exts
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
