package consumer

import (
	"context"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/storage"
	"go.uber.org/zap"
)

// ClaimWriter moves a record to processing.
type ClaimWriter interface {
	Claim(ctx context.Context, id domain.RecordID, conditional bool) (bool, error)
}

// AckWriter records the terminal outcome of a record.
type AckWriter interface {
	Ack(ctx context.Context, id domain.RecordID, status domain.Status, processedAt time.Time, result string) error
}

// Store is the slice of the record store a consumer needs.
type Store interface {
	ClaimWriter
	AckWriter
	Pending(ctx context.Context, table string, limit int) ([]domain.Command, error)
	Listen(ctx context.Context, table string) (storage.Feed, error)
	Close()
}

// Connector opens a new connection to the record store.
type Connector func(ctx context.Context) (Store, error)

// ConnectWithRetry calls connect until it succeeds, sleeping backoff between
// attempts. It only gives up when ctx is done.
func ConnectWithRetry[T any](ctx context.Context, connect func(context.Context) (T, error), backoff time.Duration, log *zap.Logger) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := connect(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("connected", zap.Int("attempts", attempt))
			}
			return v, nil
		}
		log.Warn("connect failed, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			var zero T
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}
