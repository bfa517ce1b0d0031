package storage

import (
	"testing"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChangeInsert(t *testing.T) {
	payload := `{"kind":"INSERT","table":"fs_commands","data":{"id":"c1","action":"hangup","uuid":"abc","cause":null,"uuid_a":null,"status":"new","claimed_at":null,"processed_at":null}}`

	ev := DecodeChange("fs_commands", []byte(payload))

	require.NoError(t, ev.Err)
	assert.Equal(t, domain.ChangeCreate, ev.Kind)
	assert.Equal(t, domain.RecordID{Table: "fs_commands", Key: "c1"}, ev.Record.ID)
	assert.Equal(t, "hangup", ev.Record.Action)
	assert.Equal(t, "abc", ev.Record.UUID)
	assert.Empty(t, ev.Record.Cause)
	assert.Nil(t, ev.Record.ProcessedAt)
	assert.True(t, ev.Relevant())
}

func TestDecodeChangeUpdateDone(t *testing.T) {
	payload := `{"kind":"UPDATE","table":"fs_commands","data":{"id":"c1","action":"api","status":"done","processed_at":1700000000,"result":"+OK"}}`

	ev := DecodeChange("fs_commands", []byte(payload))

	require.NoError(t, ev.Err)
	assert.Equal(t, domain.ChangeUpdate, ev.Kind)
	require.NotNil(t, ev.Record.ProcessedAt)
	assert.Equal(t, int64(1700000000), *ev.Record.ProcessedAt)
	assert.False(t, ev.Relevant())
}

func TestDecodeChangePartialRow(t *testing.T) {
	payload := `{"kind":"INSERT","table":"fs_commands","partial":true,"data":{"id":"c1","status":"new"}}`

	ev, partial := decodeChange("fs_commands", []byte(payload))

	require.NoError(t, ev.Err)
	assert.True(t, partial)
	assert.Equal(t, domain.RecordID{Table: "fs_commands", Key: "c1"}, ev.Record.ID)
	assert.Empty(t, ev.Record.Action)
	assert.True(t, ev.Relevant())

	_, partial = decodeChange("fs_commands", []byte(`{"kind":"INSERT","data":{"id":"c1","status":"new"}}`))
	assert.False(t, partial)
}

func TestDecodeChangeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"kind":`,
		"bad data":     `{"kind":"INSERT","data":"oops"}`,
		"missing id":   `{"kind":"INSERT","data":{"action":"api","status":"new"}}`,
		"wrong typing": `{"kind":"INSERT","data":{"id":"c1","processed_at":"soon"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			ev := DecodeChange("fs_commands", []byte(payload))
			assert.Error(t, ev.Err)
			assert.False(t, ev.Relevant())
		})
	}
}

func TestDecodeChangeMissingIDIsInvalidRecordID(t *testing.T) {
	ev := DecodeChange("fs_commands", []byte(`{"kind":"INSERT","data":{"status":"new"}}`))
	assert.ErrorIs(t, ev.Err, domain.ErrInvalidRecordID)
}

func TestValidTable(t *testing.T) {
	assert.True(t, ValidTable("fs_commands"))
	assert.True(t, ValidTable("_x1"))
	assert.False(t, ValidTable(""))
	assert.False(t, ValidTable("1abc"))
	assert.False(t, ValidTable("fs;drop"))
	assert.False(t, ValidTable("a-b"))
	assert.False(t, ValidTable(string(make([]byte, 60))))
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "fs_commands_changes", Channel("fs_commands"))
}
