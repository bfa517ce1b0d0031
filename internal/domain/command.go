package domain

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// IsNew reports whether the record is eligible for consumption. Producers are
// not consistent about case, so "NEW" and "New" count too.
func (s Status) IsNew() bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(StatusNew))
}

var ErrInvalidRecordID = errors.New("invalid record id")

// RecordID addresses one record: the table (topic) it lives in plus its key.
type RecordID struct {
	Table string
	Key   string
}

func (id RecordID) String() string { return id.Table + ":" + id.Key }

func (id RecordID) IsZero() bool { return id.Table == "" && id.Key == "" }

// ParseRecordID parses the canonical "table:key" form. The key may itself
// contain colons; only the first one separates the table.
func ParseRecordID(s string) (RecordID, error) {
	table, key, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || table == "" || key == "" {
		return RecordID{}, ErrInvalidRecordID
	}
	return RecordID{Table: table, Key: key}, nil
}

func (id RecordID) MarshalText() ([]byte, error) {
	if id.Table == "" || id.Key == "" {
		return nil, ErrInvalidRecordID
	}
	return []byte(id.String()), nil
}

func (id *RecordID) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Command is a pending telephony-control instruction as exchanged at the
// JSON boundary. ClaimedAt and ProcessedAt are only ever set by consumers.
type Command struct {
	ID          RecordID   `json:"id"`
	Action      string     `json:"action"`
	Cmd         string     `json:"cmd,omitempty"`
	Args        string     `json:"args,omitempty"`
	UUID        string     `json:"uuid,omitempty"`
	Cause       string     `json:"cause,omitempty"`
	UUIDA       string     `json:"uuidA,omitempty"`
	UUIDB       string     `json:"uuidB,omitempty"`
	File        string     `json:"file,omitempty"`
	Legs        string     `json:"legs,omitempty"`
	Status      Status     `json:"status"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	ProcessedAt *int64     `json:"processedAt,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// FinalStatus maps a dispatch outcome to the terminal status written by ack.
func FinalStatus(ok bool) Status {
	if ok {
		return StatusDone
	}
	return StatusFailed
}

// SingleLine replaces CR and LF with spaces so results stay one line.
func SingleLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
