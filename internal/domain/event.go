package domain

import "strings"

type ChangeKind string

const (
	ChangeCreate  ChangeKind = "create"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeUnknown ChangeKind = "unknown"
)

// ParseChangeKind maps both SQL trigger operations (INSERT/UPDATE/DELETE) and
// plain names (create/update/delete) to a ChangeKind.
func ParseChangeKind(s string) ChangeKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert", "create":
		return ChangeCreate
	case "update":
		return ChangeUpdate
	case "delete":
		return ChangeDelete
	default:
		return ChangeUnknown
	}
}

// ChangeEvent is one item of a live feed. Err is set when the record could not
// be decoded; Kind is still populated when the envelope was readable.
type ChangeEvent struct {
	Kind   ChangeKind
	Record Command
	Err    error
}

// Relevant reports whether the event is a create/update of a record that is
// still waiting to be processed.
func (e ChangeEvent) Relevant() bool {
	if e.Kind != ChangeCreate && e.Kind != ChangeUpdate {
		return false
	}
	return e.Err == nil && e.Record.Status.IsNew()
}
