package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SirClappington/fscmd/internal/app"
	"github.com/SirClappington/fscmd/internal/config"
	"github.com/SirClappington/fscmd/internal/httpapi"
	"github.com/SirClappington/fscmd/internal/subscription"
	"go.uber.org/multierr"
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

	if err := run(a); err != nil {
		a.Log.Error("api stopped", zap.Error(err))
		return
	}
	a.Log.Info("api stopped")
}

func run(a *app.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.Config
	store, err := a.Store(ctx)
	if err != nil {
		return err
	}

	var sink subscription.Sink
	switch cfg.SinkKind {
	case config.SinkRedis:
		sink = a.Queue()
	default:
		sink = subscription.NewDispatchSink(a.Dispatcher(), a.Acker(), store)
	}
	subs := subscription.NewManager(a.Connector(), a.Claimer(), cfg.ResubscribeBackoff, a.Log.Named("subscription"))

	filter, err := subscription.NewFilter(cfg.SubscribeFilter)
	if err != nil {
		return fmt.Errorf("SUBSCRIBE_FILTER: %w", err)
	}
	for _, topic := range cfg.SubscribeTopics {
		if err := store.CreateTopic(ctx, topic); err != nil {
			a.Log.Warn("topic table not created", zap.String("topic", topic), zap.Error(err))
		}
		if code := subs.Subscribe(topic, sink, subscription.WithFilter(filter)); code != subscription.StatusOK {
			a.Log.Warn("auto subscribe failed", zap.String("topic", topic), zap.Stringer("status", code))
		}
	}

	api := httpapi.New(store, subs, func(string) subscription.Sink { return sink }, a.Log.Named("http"))
	if cfg.SinkKind == config.SinkRedis {
		api.WithQueue(a.Queue())
	}
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("sink", string(cfg.SinkKind)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return multierr.Combine(srv.Shutdown(shutdownCtx), subs.Close())
	})
	return g.Wait()
}
