package subscription

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SirClappington/fscmd/internal/consumer"
	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/metrics"
	"github.com/SirClappington/fscmd/internal/storage"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("subscription manager closed")

type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusNotFound
	StatusInvalid
	StatusClosed
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusInvalid:
		return "invalid"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Option func(*subscription)

// WithFilter only claims records matching f.
func WithFilter(f Filter) Option {
	return func(s *subscription) { s.filter = f }
}

// Info describes a registered subscription.
type Info struct {
	Topic     string    `json:"topic"`
	Filter    string    `json:"filter,omitempty"`
	Since     time.Time `json:"since"`
	Notified  int64     `json:"notified"`
	Connected bool      `json:"connected"`
}

type subscription struct {
	topic  string
	sink   Sink
	filter Filter
	since  time.Time

	stopFlag  atomic.Bool
	connected atomic.Bool
	notified  atomic.Int64
	cancel    context.CancelFunc
	done      chan struct{}
}

func (s *subscription) stop() {
	s.stopFlag.Store(true)
	s.cancel()
}

func (s *subscription) stopped() bool { return s.stopFlag.Load() }

func (s *subscription) info() Info {
	return Info{
		Topic:     s.topic,
		Filter:    s.filter.String(),
		Since:     s.since,
		Notified:  s.notified.Load(),
		Connected: s.connected.Load(),
	}
}

// Manager runs one independent live-feed task per subscribed topic.
type Manager struct {
	connect consumer.Connector
	claimer *consumer.Claimer
	backoff time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

func NewManager(connect consumer.Connector, claimer *consumer.Claimer, backoff time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		connect: connect,
		claimer: claimer,
		backoff: backoff,
		log:     log,
		subs:    map[string]*subscription{},
	}
}

// Subscribe starts a task for topic. An existing subscription on the same
// topic is stopped and replaced; the new task starts consuming only after the
// old one has exited.
func (m *Manager) Subscribe(topic string, sink Sink, opts ...Option) StatusCode {
	topic = strings.TrimSpace(topic)
	if !storage.ValidTable(topic) || sink == nil {
		return StatusInvalid
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{topic: topic, sink: sink, since: time.Now(), cancel: cancel, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return StatusClosed
	}
	prev := m.subs[topic]
	m.subs[topic] = s
	m.mu.Unlock()

	var after <-chan struct{}
	if prev != nil {
		prev.stop()
		after = prev.done
		m.log.Info("replacing subscription", zap.String("topic", topic))
	} else {
		metrics.SubscriptionsActive.Inc()
	}
	go m.run(ctx, s, after)
	fields := []zap.Field{zap.String("topic", topic)}
	if s.filter.Enabled() {
		fields = append(fields, zap.String("filter", s.filter.String()))
	}
	m.log.Info("subscribed", fields...)
	return StatusOK
}

// Unsubscribe stops the topic's task and waits for it to exit.
func (m *Manager) Unsubscribe(topic string) StatusCode {
	m.mu.Lock()
	s, ok := m.subs[topic]
	if ok {
		delete(m.subs, topic)
	}
	m.mu.Unlock()
	if !ok {
		return StatusNotFound
	}

	s.stop()
	<-s.done
	metrics.SubscriptionsActive.Dec()
	m.log.Info("unsubscribed", zap.String("topic", topic))
	return StatusOK
}

func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.info())
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Topic, b.Topic) })
	return out
}

func (m *Manager) Get(topic string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[topic]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// Emit hands payload directly to the topic's sink without touching the
// record store.
func (m *Manager) Emit(ctx context.Context, topic string, payload []byte) (StatusCode, error) {
	m.mu.Lock()
	s, ok := m.subs[topic]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return StatusClosed, ErrClosed
	}
	if !ok {
		return StatusNotFound, nil
	}
	if err := s.sink.Notify(ctx, topic, payload); err != nil {
		metrics.Notifications.WithLabelValues(topic, "error").Inc()
		return StatusInvalid, err
	}
	metrics.Notifications.WithLabelValues(topic, "ok").Inc()
	return StatusOK, nil
}

// Close stops every subscription and refuses new ones. It is safe to call
// more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = map[string]*subscription{}
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	for _, s := range subs {
		<-s.done
		metrics.SubscriptionsActive.Dec()
	}
	return nil
}

func (m *Manager) run(ctx context.Context, s *subscription, after <-chan struct{}) {
	defer close(s.done)
	log := m.log.With(zap.String("topic", s.topic))

	if after != nil {
		select {
		case <-after:
		case <-ctx.Done():
			return
		}
	}

	var store consumer.Store
	defer func() {
		if store != nil {
			store.Close()
		}
	}()

	for !s.stopped() {
		if store == nil {
			st, err := m.connect(ctx)
			if err != nil {
				if s.stopped() {
					return
				}
				log.Warn("connect failed", zap.Duration("backoff", m.backoff), zap.Error(err))
				if !sleep(ctx, m.backoff) {
					return
				}
				continue
			}
			store = st
		}

		err := m.consume(ctx, s, store, log)
		s.connected.Store(false)
		if s.stopped() {
			return
		}
		log.Warn("live feed ended, reconnecting", zap.Duration("backoff", m.backoff), zap.Error(err))
		store.Close()
		store = nil
		if !sleep(ctx, m.backoff) {
			return
		}
	}
}

func (m *Manager) consume(ctx context.Context, s *subscription, store consumer.Store, log *zap.Logger) error {
	feed, err := store.Listen(ctx, s.topic)
	if err != nil {
		return err
	}
	defer feed.Close()
	s.connected.Store(true)

	return consumer.Push(ctx, feed, log, func(c domain.Command) bool {
		m.deliver(ctx, s, store, c, log)
		return !s.stopped()
	})
}

// deliver is not interrupted by cancellation once it has started.
func (m *Manager) deliver(ctx context.Context, s *subscription, store consumer.Store, c domain.Command, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if !s.filter.Match(s.topic, c) {
		log.Debug("filtered out", zap.Stringer("id", c.ID))
		return
	}
	if out := m.claimer.Claim(ctx, store, c.ID); out != consumer.Claimed {
		log.Info("claim not acquired, dropping", zap.Stringer("id", c.ID), zap.String("outcome", string(out)))
		return
	}

	now := time.Now()
	c.Status = domain.StatusProcessing
	c.ClaimedAt = &now
	payload, err := Payload(c)
	if err != nil {
		log.Error("encode payload", zap.Stringer("id", c.ID), zap.Error(err))
		return
	}
	if err := s.sink.Notify(ctx, s.topic, payload); err != nil {
		metrics.Notifications.WithLabelValues(s.topic, "error").Inc()
		log.Warn("sink notify failed", zap.Stringer("id", c.ID), zap.Error(err))
		return
	}
	metrics.Notifications.WithLabelValues(s.topic, "ok").Inc()
	s.notified.Add(1)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
