package consumer

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/metrics"
	"go.uber.org/zap"
)

// Acker writes the terminal status of dispatched records.
type Acker struct {
	maxLen int
	now    func() time.Time
	log    *zap.Logger
}

// NewAcker returns an Acker that truncates results to maxLen characters.
// Zero disables truncation.
func NewAcker(maxLen int, log *zap.Logger) *Acker {
	return &Acker{maxLen: maxLen, now: time.Now, log: log}
}

// Ack is unconditional and may overwrite an already finalized record. A
// failed write is logged and the record stays in processing.
func (a *Acker) Ack(ctx context.Context, w AckWriter, id domain.RecordID, ok bool, result string) {
	result = truncate(domain.SingleLine(result), a.maxLen)
	status := domain.FinalStatus(ok)

	if err := w.Ack(ctx, id, status, a.now(), result); err != nil {
		metrics.Acks.WithLabelValues("error").Inc()
		a.log.Error("ack failed, record left in processing",
			zap.Stringer("id", id), zap.String("status", string(status)), zap.Error(err))
		return
	}
	metrics.Acks.WithLabelValues("ok").Inc()
	a.log.Info("processed", zap.Stringer("id", id), zap.String("status", string(status)), zap.String("result", truncate(result, 120)))
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
