package consumer

import (
	"context"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/metrics"
	"github.com/SirClappington/fscmd/internal/storage"
	"go.uber.org/zap"
)

// Pender runs the bounded pending-records query.
type Pender interface {
	Pending(ctx context.Context, table string, limit int) ([]domain.Command, error)
}

// Push reads a live feed and calls yield for each created or updated record
// still in status new. Undecodable events are skipped. It returns when the
// feed ends, reporting why, or with nil once yield returns false.
func Push(ctx context.Context, feed storage.Feed, log *zap.Logger, yield func(domain.Command) bool) error {
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Err != nil {
			log.Warn("skipping undecodable change", zap.String("kind", string(ev.Kind)), zap.Error(ev.Err))
			continue
		}
		if !ev.Relevant() {
			continue
		}
		metrics.RecordsFetched.WithLabelValues("push").Inc()
		if !yield(ev.Record) {
			return nil
		}
	}
}

// Poller queries a table for pending records on a fixed period.
type Poller struct {
	Store    Pender
	Table    string
	Interval time.Duration
	Batch    int
	Log      *zap.Logger
}

// Run polls until ctx is done. Query errors are logged and count as an empty
// batch; empty batches are not passed to handle.
func (p Poller) Run(ctx context.Context, handle func([]domain.Command)) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		batch, err := p.Store.Pending(ctx, p.Table, p.Batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Log.Warn("poll query failed", zap.String("table", p.Table), zap.Error(err))
			continue
		}
		if len(batch) == 0 {
			continue
		}
		metrics.RecordsFetched.WithLabelValues("poll").Add(float64(len(batch)))
		handle(batch)
	}
}
