package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/storage"
)

var errFeedEnded = errors.New("feed ended")

type fakeFeed struct {
	events chan domain.ChangeEvent
	closed chan struct{}
	once   sync.Once
}

func newFakeFeed(events ...domain.ChangeEvent) *fakeFeed {
	f := &fakeFeed{events: make(chan domain.ChangeEvent, len(events)+8), closed: make(chan struct{})}
	for _, ev := range events {
		f.events <- ev
	}
	return f
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

type ackCall struct {
	id     domain.RecordID
	status domain.Status
	result string
}

type fakeStore struct {
	mu sync.Mutex

	feeds     []*fakeFeed
	listenErr error
	listens   int

	batches  [][]domain.Command
	pollErrs []error
	polls    int

	claimed  map[domain.RecordID]bool
	claimErr error
	claims   []domain.RecordID

	ackErr error
	acks   []ackCall
	closed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimed: map[domain.RecordID]bool{}}
}

func (s *fakeStore) Listen(_ context.Context, _ string) (storage.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listens++
	if s.listenErr != nil {
		return nil, s.listenErr
	}
	if len(s.feeds) == 0 {
		return nil, errors.New("no feed")
	}
	f := s.feeds[0]
	s.feeds = s.feeds[1:]
	return f, nil
}

func (s *fakeStore) Pending(_ context.Context, _ string, limit int) ([]domain.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.polls
	s.polls++
	if i < len(s.pollErrs) && s.pollErrs[i] != nil {
		return nil, s.pollErrs[i]
	}
	if i < len(s.batches) {
		b := s.batches[i]
		if len(b) > limit {
			b = b[:limit]
		}
		return b, nil
	}
	return nil, nil
}

func (s *fakeStore) Claim(_ context.Context, id domain.RecordID, conditional bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, id)
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if conditional && s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

func (s *fakeStore) Ack(_ context.Context, id domain.RecordID, status domain.Status, _ time.Time, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acks = append(s.acks, ackCall{id: id, status: status, result: result})
	return nil
}

func (s *fakeStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeStore) snapshot() (listens, polls int, claims []domain.RecordID, acks []ackCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listens, s.polls, append([]domain.RecordID(nil), s.claims...), append([]ackCall(nil), s.acks...)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []domain.Command
}

func (d *fakeDispatcher) Dispatch(_ context.Context, c domain.Command) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
	return true, "+OK\n"
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func cmd(key string) domain.Command {
	return domain.Command{
		ID:     domain.RecordID{Table: "fs_commands", Key: key},
		Action: "api",
		Cmd:    "status",
		Status: domain.StatusNew,
	}
}

func created(key string) domain.ChangeEvent {
	return domain.ChangeEvent{Kind: domain.ChangeCreate, Record: cmd(key)}
}
