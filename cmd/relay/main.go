package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SirClappington/fscmd/internal/app"
	"github.com/SirClappington/fscmd/internal/metrics"
	"github.com/SirClappington/fscmd/internal/subscription"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// relay drains the Redis hand-off queues filled by the api's redis sink and
// executes each record in this process.
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
	store, err := a.Store(ctx)
	if err != nil {
		a.Log.Error("relay stopped before connecting", zap.Error(err))
		return
	}
	sink := subscription.NewDispatchSink(a.Dispatcher(), a.Acker(), store)
	q := a.Queue()

	topics := cfg.SubscribeTopics
	if len(topics) == 0 {
		topics = []string{cfg.CommandsTable}
	}

	g, ctx := errgroup.WithContext(ctx)
	go metrics.Serve(ctx, cfg.MetricsAddr, a.Log)
	for _, topic := range topics {
		log := a.Log.Named("relay").With(zap.String("topic", topic))
		g.Go(func() error {
			log.Info("draining", zap.String("queue", q.QueueKey(topic)))
			return q.Drain(ctx, topic, time.Second, cfg.ConnectBackoff, log, func(ctx context.Context, payload []byte) error {
				return sink.Notify(ctx, topic, payload)
			})
		})
	}

	if err := g.Wait(); err != nil {
		a.Log.Error("relay stopped", zap.Error(err))
		return
	}
	a.Log.Info("relay stopped")
}
