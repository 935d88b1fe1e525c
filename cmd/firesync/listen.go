package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/firesync"
	"github.com/c0deZ3R0/firesync/logging"
	"github.com/c0deZ3R0/firesync/metrics"
	"github.com/c0deZ3R0/firesync/reduxstore"
)

const shutdownTimeout = 5 * time.Second

func newListenCmd() *cobra.Command {
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every action added to the collection",
		Long: `Replay every action in the collection, then each one added by any client, as
JSON lines in server timestamp order. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runListen,
	}
	listenCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	listenCmd.Flags().Bool("summary", false, "print the number of actions of each type on exit")
	listenCmd.Flags().Int("max-actions", 0, "exit after this many actions (0 runs until interrupted)")
	return listenCmd
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	summary, _ := cmd.Flags().GetBool("summary")
	maxActions, _ := cmd.Flags().GetInt("max-actions")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	collector := metrics.NewCollector()
	local := reduxstore.New(reduxstore.CountByType, map[string]int{})
	printer := newActionPrinter(cmd.OutOrStdout(), maxActions, cancel)
	local.Subscribe(printer.print)

	adapter, err := firesync.New(cfg.Creator, store, cfg.Collection, local,
		firesync.WithLogger(logging.Default()),
		firesync.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)
		serveMetrics(gctx, g, metricsAddr, registry)
	}
	g.Go(func() error {
		unsubscribe := adapter.Listen(gctx, cfg.Collection)
		<-gctx.Done()
		unsubscribe()
		return nil
	})
	// unsubscribe has waited for any running callback, so printing is over
	err = g.Wait()
	if err := printer.err(); err != nil {
		return err
	}
	if summary {
		writeSummary(cmd.OutOrStdout(), local.State())
	}
	return err
}

// serveMetrics runs an HTTP server for registry on g until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logging.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// actionPrinter writes actions as JSON lines and stops the command after max
// actions when max is positive.
type actionPrinter struct {
	mu       sync.Mutex
	enc      *json.Encoder
	max      int
	count    int
	stop     context.CancelFunc
	writeErr error
}

func newActionPrinter(w io.Writer, max int, stop context.CancelFunc) *actionPrinter {
	return &actionPrinter{enc: json.NewEncoder(w), max: max, stop: stop}
}

func (p *actionPrinter) print(_ map[string]int, action firesync.Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil || (p.max > 0 && p.count >= p.max) {
		return
	}
	if err := p.enc.Encode(action); err != nil {
		p.writeErr = fmt.Errorf("write action: %w", err)
		p.stop()
		return
	}
	p.count++
	if p.max > 0 && p.count >= p.max {
		p.stop()
	}
}

func (p *actionPrinter) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeErr
}

// writeSummary prints one "<type>\t<count>" line per action type, sorted by
// type. Untyped actions are listed as "(none)".
func writeSummary(w io.Writer, counts map[string]int) {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		name := t
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "%s\t%d\n", name, counts[t])
	}
}
