package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SirClappington/fscmd/internal/consumer"
	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/storage"
)

var errFeedEnded = errors.New("feed ended")

type fakeFeed struct {
	events chan domain.ChangeEvent
	closed chan struct{}
	once   sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan domain.ChangeEvent, 16), closed: make(chan struct{})}
}

func (f *fakeFeed) Next(ctx context.Context) (domain.ChangeEvent, error) {
	select {
	case <-ctx.Done():
		return domain.ChangeEvent{}, ctx.Err()
	case <-f.closed:
		return domain.ChangeEvent{}, storage.ErrFeedClosed
	case ev, ok := <-f.events:
		if !ok {
			return domain.ChangeEvent{}, errFeedEnded
		}
		return ev, nil
	}
}

func (f *fakeFeed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeFeed) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeBackend hands out stores sharing one claim table; every Listen call
// publishes its feed on opened.
type fakeBackend struct {
	mu       sync.Mutex
	claimed  map[domain.RecordID]bool
	connects int
	closes   int
	acks     []domain.RecordID
	opened   chan *fakeFeed
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{claimed: map[domain.RecordID]bool{}, opened: make(chan *fakeFeed, 16)}
}

func (b *fakeBackend) connect(context.Context) (consumer.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	return &fakeStore{b: b}, nil
}

func (b *fakeBackend) counts() (connects, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.closes
}

func (b *fakeBackend) take(id domain.RecordID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.claimed[id] = true
}

type fakeStore struct{ b *fakeBackend }

func (s *fakeStore) Listen(context.Context, string) (storage.Feed, error) {
	f := newFakeFeed()
	s.b.opened <- f
	return f, nil
}

func (s *fakeStore) Pending(context.Context, string, int) ([]domain.Command, error) {
	return nil, nil
}

func (s *fakeStore) Claim(_ context.Context, id domain.RecordID, conditional bool) (bool, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if conditional && s.b.claimed[id] {
		return false, nil
	}
	s.b.claimed[id] = true
	return true, nil
}

func (s *fakeStore) Ack(_ context.Context, id domain.RecordID, _ domain.Status, _ time.Time, _ string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.acks = append(s.b.acks, id)
	return nil
}

func (s *fakeStore) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.closes++
}

type note struct {
	topic   string
	payload []byte
}

type recordingSink struct {
	ch chan note
}

func newRecordingSink() *recordingSink { return &recordingSink{ch: make(chan note, 16)} }

func (r *recordingSink) Notify(_ context.Context, topic string, payload []byte) error {
	r.ch <- note{topic: topic, payload: payload}
	return nil
}

func newRecord(key, action string) domain.Command {
	return domain.Command{
		ID:     domain.RecordID{Table: "fs_commands", Key: key},
		Action: action,
		Cmd:    "status",
		UUID:   "u-" + key,
		Status: domain.StatusNew,
	}
}

func created(c domain.Command) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.ChangeCreate, Record: c}
}
