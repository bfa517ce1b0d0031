package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrFeedClosed = errors.New("live feed closed")

// Feed is a live, unbounded stream of change events for one table. It is not
// restartable: once Next returns an error the feed is finished.
type Feed interface {
	Next(ctx context.Context) (domain.ChangeEvent, error)
	Close() error
}

// Channel is the notification channel the change trigger publishes to.
func Channel(table string) string { return table + "_changes" }

// Listen opens a live feed on a table. The feed holds one pooled connection
// until it is closed.
func (s *Store) Listen(ctx context.Context, table string) (Feed, error) {
	if !ValidTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	channel := Channel(table)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &pgFeed{conn: conn, table: table, store: s}, nil
}

type pgFeed struct {
	conn  *pgxpool.Conn
	table string
	store *Store
}

func (f *pgFeed) Next(ctx context.Context) (domain.ChangeEvent, error) {
	if f.conn == nil {
		return domain.ChangeEvent{}, ErrFeedClosed
	}
	n, err := f.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	ev, partial := decodeChange(f.table, []byte(n.Payload))
	if !partial || !ev.Relevant() {
		return ev, nil
	}

	// The row was too large to travel with the notification.
	rec, err := f.store.Get(ctx, ev.Record.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		ev.Err = err
		return ev, nil
	case err != nil:
		return domain.ChangeEvent{}, fmt.Errorf("load %s: %w", ev.Record.ID, err)
	}
	ev.Record = rec
	return ev, nil
}

func (f *pgFeed) Close() error {
	if f.conn == nil {
		return nil
	}
	conn := f.conn
	f.conn = nil
	defer conn.Release()
	if conn.Conn().IsClosed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.Exec(ctx, "UNLISTEN *")
	return err
}

// envelope is the payload built by the fscmd_notify_change trigger.
type envelope struct {
	Kind    string          `json:"kind"`
	Table   string          `json:"table"`
	Partial bool            `json:"partial"`
	Data    json.RawMessage `json:"data"`
}

// row mirrors row_to_json output of a command table.
type row struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	Cmd         string     `json:"cmd"`
	Args        string     `json:"args"`
	UUID        string     `json:"uuid"`
	Cause       string     `json:"cause"`
	UUIDA       string     `json:"uuid_a"`
	UUIDB       string     `json:"uuid_b"`
	File        string     `json:"file"`
	Legs        string     `json:"legs"`
	Status      string     `json:"status"`
	ClaimedAt   *time.Time `json:"claimed_at"`
	ProcessedAt *int64     `json:"processed_at"`
	Result      string     `json:"result"`
}

// DecodeChange turns a trigger payload into a ChangeEvent. Decoding problems
// are reported through the event's Err field so callers can skip the event
// and keep reading. Oversized rows arrive with only id and status set.
func DecodeChange(table string, payload []byte) domain.ChangeEvent {
	ev, _ := decodeChange(table, payload)
	return ev
}

func decodeChange(table string, payload []byte) (domain.ChangeEvent, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.ChangeEvent{Kind: domain.ChangeUnknown, Err: fmt.Errorf("decode change envelope: %w", err)}, false
	}
	ev := domain.ChangeEvent{Kind: domain.ParseChangeKind(env.Kind)}
	if env.Table != "" {
		table = env.Table
	}

	var r row
	if err := json.Unmarshal(env.Data, &r); err != nil {
		ev.Err = fmt.Errorf("decode %s record: %w", table, err)
		return ev, false
	}
	if r.ID == "" {
		ev.Err = fmt.Errorf("decode %s record: %w", table, domain.ErrInvalidRecordID)
		return ev, false
	}
	ev.Record = domain.Command{
		ID:          domain.RecordID{Table: table, Key: r.ID},
		Action:      r.Action,
		Cmd:         r.Cmd,
		Args:        r.Args,
		UUID:        r.UUID,
		Cause:       r.Cause,
		UUIDA:       r.UUIDA,
		UUIDB:       r.UUIDB,
		File:        r.File,
		Legs:        r.Legs,
		Status:      domain.Status(r.Status),
		ClaimedAt:   r.ClaimedAt,
		ProcessedAt: r.ProcessedAt,
		Result:      r.Result,
	}
	return ev, env.Partial
}
