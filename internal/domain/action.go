package domain

import "strings"

// Action is the closed set of instructions a command record can carry.
// Implementations live in this package only.
type Action interface {
	Name() string
	isAction()
}

type APICall struct {
	Cmd  string
	Args string
}

type Originate struct {
	Args string
}

type Hangup struct {
	UUID  string
	Cause string
}

type Bridge struct {
	UUIDA string
	UUIDB string
}

type Playback struct {
	UUID string
	File string
	Legs string
}

// UnknownAction carries an action name outside the supported set, lower-cased.
// An empty Raw means the record had no action at all.
type UnknownAction struct {
	Raw string
}

func (APICall) Name() string         { return "api" }
func (Originate) Name() string       { return "originate" }
func (Hangup) Name() string          { return "hangup" }
func (Bridge) Name() string          { return "bridge" }
func (Playback) Name() string        { return "playback" }
func (a UnknownAction) Name() string { return a.Raw }

func (APICall) isAction()       {}
func (Originate) isAction()     {}
func (Hangup) isAction()        {}
func (Bridge) isAction()        {}
func (Playback) isAction()      {}
func (UnknownAction) isAction() {}

// ActionOf decodes the record's action name (case-insensitive) together with
// the payload fields that action uses. Field values are trimmed.
func ActionOf(c Command) Action {
	name := strings.ToLower(strings.TrimSpace(c.Action))
	switch name {
	case "api":
		return APICall{Cmd: trim(c.Cmd), Args: trim(c.Args)}
	case "originate":
		return Originate{Args: trim(c.Args)}
	case "hangup":
		return Hangup{UUID: trim(c.UUID), Cause: trim(c.Cause)}
	case "bridge":
		return Bridge{UUIDA: trim(c.UUIDA), UUIDB: trim(c.UUIDB)}
	case "playback":
		return Playback{UUID: trim(c.UUID), File: trim(c.File), Legs: trim(c.Legs)}
	default:
		return UnknownAction{Raw: name}
	}
}

func trim(s string) string { return strings.TrimSpace(s) }
