//go:build integration
// +build integration

package storage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/SirClappington/fscmd/internal/storage"
	"github.com/SirClappington/fscmd/internal/testhelper"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "fs_commands"

func newCommand(action string) domain.Command {
	return domain.Command{
		ID:     domain.RecordID{Table: table, Key: uuid.NewString()},
		Action: action,
		Cmd:    "status",
		Status: domain.StatusNew,
	}
}

func TestStoreLifecycle(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx := context.Background()

	c := newCommand("api")
	require.NoError(t, db.Store.Insert(ctx, c))
	assert.ErrorIs(t, db.Store.Insert(ctx, c), storage.ErrDuplicate)

	pending, err := db.Store.Pending(ctx, table, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)

	claimed, err := db.Store.Claim(ctx, c.ID, true)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = db.Store.Claim(ctx, c.ID, true)
	require.NoError(t, err)
	assert.False(t, claimed, "second conditional claim must lose")

	claimed, err = db.Store.Claim(ctx, c.ID, false)
	require.NoError(t, err)
	assert.True(t, claimed, "advisory claim always writes")

	now := time.Now()
	require.NoError(t, db.Store.Ack(ctx, c.ID, domain.StatusDone, now, "+OK"))

	got, err := db.Store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, "+OK", got.Result)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, now.Unix(), *got.ProcessedAt)
	assert.NotNil(t, got.ClaimedAt)

	later := now.Add(time.Minute)
	require.NoError(t, db.Store.Ack(ctx, c.ID, domain.StatusFailed, later, "-ERR again"))

	got, err = db.Store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "-ERR again", got.Result)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, later.Unix(), *got.ProcessedAt)

	pending, err = db.Store.Pending(ctx, table, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStorePendingIsCaseInsensitive(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx := context.Background()

	c := newCommand("api")
	c.Status = "NEW"
	require.NoError(t, db.Store.Insert(ctx, c))

	pending, err := db.Store.Pending(ctx, table, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStorePatch(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx := context.Background()

	c := newCommand("api")
	require.NoError(t, db.Store.Insert(ctx, c))

	got, err := db.Store.Patch(ctx, c.ID, map[string]any{"status": "failed", "result": "manual"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "manual", got.Result)

	_, err = db.Store.Patch(ctx, c.ID, map[string]any{"claimedAt": nil})
	assert.ErrorIs(t, err, storage.ErrReadOnlyField)

	_, err = db.Store.Patch(ctx, c.ID, map[string]any{"colour": "red"})
	assert.ErrorIs(t, err, storage.ErrUnknownField)

	_, err = db.Store.Patch(ctx, domain.RecordID{Table: table, Key: "missing"}, map[string]any{"status": "new"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreListenDeliversInserts(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feed, err := db.Store.Listen(ctx, table)
	require.NoError(t, err)
	defer feed.Close()

	c := newCommand("originate")
	c.Args = "user/1000 &park"
	require.NoError(t, db.Store.Insert(ctx, c))

	ev, err := feed.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	assert.Equal(t, domain.ChangeCreate, ev.Kind)
	assert.Equal(t, c.ID, ev.Record.ID)
	assert.Equal(t, "user/1000 &park", ev.Record.Args)
	assert.True(t, ev.Relevant())

	require.NoError(t, feed.Close())
	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, storage.ErrFeedClosed)
}

func TestStoreAckLargeResult(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feed, err := db.Store.Listen(ctx, table)
	require.NoError(t, err)
	defer feed.Close()

	c := newCommand("api")
	c.Cmd = "show"
	c.Args = "channels"
	require.NoError(t, db.Store.Insert(ctx, c))
	_, err = feed.Next(ctx)
	require.NoError(t, err)

	result := strings.Repeat("x", 20*1024)
	require.NoError(t, db.Store.Ack(ctx, c.ID, domain.StatusDone, time.Now(), result))

	got, err := db.Store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Len(t, got.Result, len(result))

	ev, err := feed.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	assert.Equal(t, c.ID, ev.Record.ID)
	assert.Equal(t, domain.StatusDone, ev.Record.Status)
	assert.False(t, ev.Relevant())
}

func TestStoreListenLoadsLargeRows(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feed, err := db.Store.Listen(ctx, table)
	require.NoError(t, err)
	defer feed.Close()

	c := newCommand("originate")
	c.Cmd = ""
	c.Args = "{origination_caller_id_name=" + strings.Repeat("a", 20*1024) + "}user/1000 &park"
	require.NoError(t, db.Store.Insert(ctx, c))

	ev, err := feed.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	assert.True(t, ev.Relevant())
	assert.Equal(t, "originate", ev.Record.Action)
	assert.Equal(t, c.Args, ev.Record.Args)
}

func TestStoreRejectsInvalidTable(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)

	_, err := db.Store.Pending(context.Background(), "x; drop table fs_commands", 1)
	assert.ErrorIs(t, err, storage.ErrInvalidTable)
}

func TestStoreCreateTopic(t *testing.T) {
	db := testhelper.SetupTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, db.Store.CreateTopic(ctx, "fs_priority"))
	require.NoError(t, db.Store.CreateTopic(ctx, "fs_priority"))

	feed, err := db.Store.Listen(ctx, "fs_priority")
	require.NoError(t, err)
	defer feed.Close()

	c := newCommand("api")
	c.ID.Table = "fs_priority"
	require.NoError(t, db.Store.Insert(ctx, c))

	ev, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, ev.Record.ID)
}
