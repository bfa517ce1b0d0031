package subscription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SirClappington/fscmd/internal/consumer"
	"github.com/SirClappington/fscmd/internal/domain"
)

// Sink receives one notification per claimed record. Implementations are
// called from every topic's task and must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, topic string, payload []byte) error
}

type SinkFunc func(ctx context.Context, topic string, payload []byte) error

func (f SinkFunc) Notify(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// Payload is the JSON handed to a sink: the record with its id in
// "table:key" form.
func Payload(c domain.Command) ([]byte, error) {
	return json.Marshal(c)
}

// DispatchSink executes notified records in process and writes their outcome
// back through the store it was built with.
type DispatchSink struct {
	dispatcher consumer.Dispatcher
	acker      *consumer.Acker
	store      consumer.AckWriter
}

func NewDispatchSink(d consumer.Dispatcher, acker *consumer.Acker, store consumer.AckWriter) *DispatchSink {
	return &DispatchSink{dispatcher: d, acker: acker, store: store}
}

func (s *DispatchSink) Notify(ctx context.Context, topic string, payload []byte) error {
	var c domain.Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return fmt.Errorf("decode %s payload: %w", topic, err)
	}
	if c.ID.IsZero() {
		return fmt.Errorf("decode %s payload: %w", topic, domain.ErrInvalidRecordID)
	}
	ctx = context.WithoutCancel(ctx)
	ok, result := s.dispatcher.Dispatch(ctx, c)
	s.acker.Ack(ctx, s.store, c.ID, ok, result)
	return nil
}
