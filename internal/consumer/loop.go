package consumer

import (
	"context"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/metrics"
	"go.uber.org/zap"
)

// Dispatcher executes a record's action.
type Dispatcher interface {
	Dispatch(ctx context.Context, c domain.Command) (bool, string)
}

type Options struct {
	Table          string
	PollInterval   time.Duration
	PollBatch      int
	ConnectBackoff time.Duration
}

// Loop is the standalone worker pipeline: live feed first, polling forever
// after the feed is lost.
type Loop struct {
	connect    Connector
	dispatcher Dispatcher
	claimer    *Claimer
	acker      *Acker
	opts       Options
	log        *zap.Logger
}

func NewLoop(connect Connector, d Dispatcher, claimer *Claimer, acker *Acker, opts Options, log *zap.Logger) *Loop {
	return &Loop{connect: connect, dispatcher: d, claimer: claimer, acker: acker, opts: opts, log: log}
}

// Run blocks until ctx is done. The only error it returns is the context's,
// when cancellation happens before the first successful connect.
func (l *Loop) Run(ctx context.Context) error {
	store, err := ConnectWithRetry(ctx, l.connect, l.opts.ConnectBackoff, l.log)
	if err != nil {
		return err
	}
	defer store.Close()
	l.log.Info("connected to record store", zap.String("table", l.opts.Table))

	err = l.push(ctx, store)
	if ctx.Err() != nil {
		return nil
	}
	metrics.FeedFallbacks.Inc()
	l.log.Warn("live feed unavailable, switching to polling", zap.String("table", l.opts.Table),
		zap.Duration("interval", l.opts.PollInterval), zap.Error(err))

	return Poller{
		Store:    store,
		Table:    l.opts.Table,
		Interval: l.opts.PollInterval,
		Batch:    l.opts.PollBatch,
		Log:      l.log,
	}.Run(ctx, func(batch []domain.Command) {
		for _, c := range batch {
			l.Handle(ctx, store, c)
		}
	})
}

func (l *Loop) push(ctx context.Context, store Store) error {
	feed, err := store.Listen(ctx, l.opts.Table)
	if err != nil {
		return err
	}
	defer feed.Close()
	l.log.Info("listening for changes", zap.String("table", l.opts.Table))

	return Push(ctx, feed, l.log, func(c domain.Command) bool {
		l.Handle(ctx, store, c)
		return true
	})
}

// Handle runs claim, dispatch and ack for one record. Cancelling ctx does not
// interrupt a record that has started.
func (l *Loop) Handle(ctx context.Context, store Store, c domain.Command) {
	ctx = context.WithoutCancel(ctx)

	outcome := l.claimer.Claim(ctx, store, c.ID)
	if !l.claimer.Proceed(outcome) {
		return
	}
	ok, result := l.dispatcher.Dispatch(ctx, c)
	l.acker.Ack(ctx, store, c.ID, ok, result)
}
