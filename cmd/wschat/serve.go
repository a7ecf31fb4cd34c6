package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e-zhydzetski/go-wsbase/pkg/ratelimit"
	"github.com/e-zhydzetski/go-wsbase/pkg/wsbase"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the chat server.

Every flag can also be set with a WSCHAT_ environment variable,
e.g. WSCHAT_PORT=9000 or WSCHAT_RATE_LIMIT=5.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	bindFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var h wsbase.Handler = &chat{log: log.With("component", "chat")}
	if cfg.RateLimit > 0 {
		strategy, closeStrategy, err := newStrategy(cfg.Redis)
		if err != nil {
			return err
		}
		defer closeStrategy()
		h = ratelimit.Messages(h, strategy, ratelimit.Config{
			Limit:   cfg.RateLimit,
			Window:  cfg.RateWindow,
			Timeout: time.Second,
		})
	}

	opts := []wsbase.Option{
		wsbase.WithLogger(log.With("component", "wsbase")),
		wsbase.WithMetrics(reg, "wschat"),
	}
	if cfg.Metrics {
		opts = append(opts, wsbase.WithRoutes(func(r chi.Router) {
			r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		}))
	}
	srv, err := wsbase.New(ctx, wsbase.Config{
		Port:     cfg.Port,
		Host:     cfg.Host,
		CertPath: cfg.Cert,
		KeyPath:  cfg.Key,
		Path:     cfg.Path,
		Origins:  cfg.Origins,
	}, h, opts...)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Shutdown ends Run after the remaining connections are disconnected
		if err := srv.Run(context.Background(), cfg.PollTimeout); err != nil {
			return err
		}
		return errShutdown
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	log.Info("server stopped")
	return nil
}

var errShutdown = errors.New("server shut down")

func newStrategy(redisURL string) (ratelimit.Strategy, func(), error) {
	if redisURL == "" {
		return ratelimit.NewMemoryStrategy(time.Now), func() {}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedisStrategy(client, time.Now), func() { _ = client.Close() }, nil
}
