package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helanludovic-commits/middleware-journea/internal/app"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the back-sync retry worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, state)
		},
	}
}

func runServe(ctx context.Context, state *cliState) error {
	cfg, logger := state.cfg, state.logger

	rt, err := buildRuntime(ctx, cfg, logger, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	httpServer := app.NewHTTPServer(rt.service, app.ServerOptions{
		CORSOrigin:     cfg.CORSOrigin,
		Logger:         logger,
		Metrics:        rt.metrics,
		MetricsHandler: rt.metrics.Handler(),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("journea api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := rt.registry.CloseAll(shutdownCtx); err != nil {
			logger.Error("final itinerary flush failed", zap.Error(err))
		}
		return nil
	})
	if handle, err := rt.retryHandler(); err == nil {
		g.Go(func() error {
			return rt.queue.Run(gctx, cfg.BacksyncDrainInterval, handle)
		})
	}
	if rt.meili != nil && rt.meili.Healthy() {
		g.Go(func() error {
			n, err := rt.search.Reindex(gctx)
			if err != nil {
				logger.Warn("client reindex failed", zap.Error(err))
				return nil
			}
			logger.Info("client directory reindexed", zap.Int("clients", n))
			return nil
		})
	}

	err = g.Wait()
	logger.Info("journea api stopped")
	return err
}
