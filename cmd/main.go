// Command folio tracks manually entered investment holdings across named
// portfolios, refreshes market prices in the background, and serves
// valuation and portfolio operations over a small JSON API.
//
// Usage:
//
//	folio --config config.yaml
//	folio --holdings data/portfolio.yaml --refreshinterval 15m
//
// Optional environment variables:
//
//	FOLIO_PROXY: proxy URL for quote provider requests
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/folio/config"
	"github.com/vadiminshakov/folio/internal"
	"github.com/vadiminshakov/folio/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	app, err := internal.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.WarmUp(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Scheduler().Run(ctx)
	})
	g.Go(func() error {
		return web.NewServer(cfg.ListenAddr, app, logger.Named("web")).Start(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service stopped", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
