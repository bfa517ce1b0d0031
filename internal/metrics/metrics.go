package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RecordsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fscmd_records_fetched_total",
			Help: "Candidate records yielded by a feed, by mode (push|poll)",
		},
		[]string{"mode"},
	)

	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fscmd_claims_total",
			Help: "Claim attempts by outcome (claimed|taken|error)",
		},
		[]string{"outcome"},
	)

	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fscmd_dispatch_total",
			Help: "Dispatched commands by action and outcome (ok|failed)",
		},
		[]string{"action", "outcome"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fscmd_dispatch_duration_seconds",
			Help:    "Duration of command dispatch including the executor",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 20.0},
		},
		[]string{"action"},
	)

	Acks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fscmd_acks_total",
			Help: "Terminal write-backs by outcome (ok|error)",
		},
		[]string{"outcome"},
	)

	FeedFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fscmd_feed_fallbacks_total",
			Help: "Times a worker switched from the live feed to polling",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fscmd_subscriptions_active",
			Help: "Topic subscriptions currently registered",
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fscmd_notifications_total",
			Help: "Sink notifications by topic and outcome (ok|error)",
		},
		[]string{"topic", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(RecordsFetched)
	prometheus.MustRegister(Claims)

	prometheus.MustRegister(Dispatches)
	prometheus.MustRegister(DispatchDuration)

	prometheus.MustRegister(Acks)
	prometheus.MustRegister(FeedFallbacks)

	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(Notifications)
}

// Outcome labels a boolean result.
func Outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Serve exposes the default registry on addr until ctx is done. An empty
// addr disables it. A listener that cannot start is logged and Serve returns,
// leaving the rest of the process running.
func Serve(ctx context.Context, addr string, log *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics listener stopped", zap.String("addr", addr), zap.Error(err))
	}
}
