// Package cli builds relay's command-line surface: serve (run the broker),
// enqueue (submit one job over HTTP), status (query a running instance), and
// work (run the demo polling worker).
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/internal/backing/filelog"
	"github.com/ChuLiYu/relay/internal/backing/sqlstore"
	"github.com/ChuLiYu/relay/internal/config"
	"github.com/ChuLiYu/relay/internal/httpapi"
	"github.com/ChuLiYu/relay/internal/metrics"
	"github.com/ChuLiYu/relay/internal/store"
)

// Serve builds the Backing, Store, and HTTP/metrics servers from cfg and
// runs them until ctx is cancelled or a component fails. The three
// components run under one errgroup so any failure tears the rest down.
func Serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	b, closeBacking, err := openBacking(cfg.Backing)
	if err != nil {
		return fmt.Errorf("open backing: %w", err)
	}
	defer closeBacking()

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	st, err := store.New(ctx, b, store.WithMetrics(collector), store.WithLogger(log))
	if err != nil {
		return fmt.Errorf("construct store: %w", err)
	}

	router := httpapi.NewRouter(st, httpapi.Config{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(reg))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		g.Go(func() error {
			log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return runReapLoop(gctx, st, cfg.Reaper.Interval, log)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// runReapLoop calls st.ReapTimeouts every interval, awaiting full drain of
// one tick before the next — ticks must not overlap, per the driver
// contract the store relies on.
func runReapLoop(ctx context.Context, st *store.Store, interval time.Duration, log *slog.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			results := st.ReapTimeouts(ctx)
			for _, r := range results {
				if r.Err != nil {
					log.Warn("reap drain error", "err", r.Err)
				}
			}
		}
	}
}

func openBacking(cfg config.BackingConfig) (backing.Backing, func(), error) {
	switch cfg.Kind {
	case "", "noop":
		return backing.NewNoop(), func() {}, nil
	case "sqlite":
		s, err := sqlstore.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "filelog":
		s, err := filelog.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backing kind %q", cfg.Kind)
	}
}

// WaitForSignal returns at once with a child of ctx that is cancelled when
// SIGINT or SIGTERM arrives; the returned cancel stops the signal relay.
func WaitForSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
