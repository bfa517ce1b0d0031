package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SirClappington/fscmd/internal/app"
	"github.com/SirClappington/fscmd/internal/consumer"
	"github.com/SirClappington/fscmd/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	a, err := app.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = a.Log.Sync() }()
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.Config
	loop := consumer.NewLoop(a.Connector(), a.Dispatcher(), a.Claimer(), a.Acker(), consumer.Options{
		Table:          cfg.CommandsTable,
		PollInterval:   cfg.PollInterval,
		PollBatch:      cfg.PollBatch,
		ConnectBackoff: cfg.ConnectBackoff,
	}, a.Log.Named("consumer"))

	a.Log.Info("worker starting",
		zap.String("table", cfg.CommandsTable),
		zap.String("claim_mode", string(cfg.ClaimMode)),
		zap.String("fs_cli", cfg.FsCli))

	g, ctx := errgroup.WithContext(ctx)
	go metrics.Serve(ctx, cfg.MetricsAddr, a.Log)
	g.Go(func() error {
		err := loop.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		a.Log.Error("worker stopped", zap.Error(err))
		return
	}
	a.Log.Info("worker stopped")
}
