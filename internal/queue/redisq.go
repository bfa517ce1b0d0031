package queue

import (
	"context"
	"errors"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQ hands claimed records over to relay processes: one list per topic
// for work and one pub/sub channel per topic for observers.
type RedisQ struct {
	rdb    *r.Client
	prefix string
}

func New(rdb *r.Client, prefix string) *RedisQ { return &RedisQ{rdb: rdb, prefix: prefix} }

func (q *RedisQ) QueueKey(topic string) string { return q.prefix + ":queue:" + topic }

func (q *RedisQ) EventsChannel(topic string) string { return q.prefix + ":events:" + topic }

// Notify pushes payload onto the topic's queue and publishes it in one
// transaction.
func (q *RedisQ) Notify(ctx context.Context, topic string, payload []byte) error {
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.QueueKey(topic), payload)
	pipe.Publish(ctx, q.EventsChannel(topic), payload)
	_, err := pipe.Exec(ctx)
	return err
}

// Dequeue waits up to block for the oldest payload. It returns nil, nil when
// nothing arrived in time.
func (q *RedisQ) Dequeue(ctx context.Context, topic string, block time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, block, q.QueueKey(topic)).Result()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 2 {
		return []byte(res[1]), nil
	}
	return nil, nil
}

func (q *RedisQ) Len(ctx context.Context, topic string) (int64, error) {
	return q.rdb.LLen(ctx, q.QueueKey(topic)).Result()
}

// Subscribe listens on the events channel of the given topics.
func (q *RedisQ) Subscribe(ctx context.Context, topics ...string) *r.PubSub {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = q.EventsChannel(t)
	}
	return q.rdb.Subscribe(ctx, channels...)
}

// Drain feeds every queued payload of topic to handle until ctx is done.
// Handler errors are logged; the payload is not requeued.
func (q *RedisQ) Drain(ctx context.Context, topic string, block, backoff time.Duration, log *zap.Logger, handle func(ctx context.Context, payload []byte) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := q.Dequeue(ctx, topic, block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("dequeue failed", zap.String("topic", topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		if payload == nil {
			continue
		}
		if err := handle(ctx, payload); err != nil {
			log.Warn("relay handler failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}
