/*
Package room contains the core data structures of a collaboration room.

It defines the Participant (a connected member as seen by presence) and the Room record
(the durable room identity plus its single shared document), used both internally and on the wire.
*/
package room

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultLanguage is the declared content type of a newly created room's document.
	DefaultLanguage = "html"

	// MaxUsernameLength is the maximum display name length, in runes.
	MaxUsernameLength = 32
)

// Cursor is a line/column position inside the shared document.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Participant represents a member of a room as announced through presence.
// Fields use JSON tags for serialization in presence metadata and WebSocket frames.
type Participant struct {
	// ID is unique per connection; a user who reconnects gets a new ID.
	ID string `json:"id"`

	// Username is the display name chosen by the user.
	Username string `json:"username"`

	// Color is used for the participant's avatar and cursor.
	Color string `json:"color"`

	// CursorPosition is the participant's last known cursor, if any.
	CursorPosition *Cursor `json:"cursorPosition,omitempty"`

	// Active reports whether the participant is currently active.
	Active bool `json:"isActive"`
}

// Room is the durable record of a collaboration room.
type Room struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`

	// Document is the single shared text blob of the room.
	Document string `json:"codeContent"`

	// Language is the declared content type of Document, e.g. "html".
	Language string `json:"language"`
}

// NormalizeUsername trims the username and reports whether it is acceptable:
// non-empty and at most MaxUsernameLength runes.
func NormalizeUsername(username string) (string, bool) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxUsernameLength {
		return "", false
	}
	return trimmed, true
}

// CloneParticipants returns a copy of the slice with independent cursor values.
func CloneParticipants(in []Participant) []Participant {
	if in == nil {
		return nil
	}

	out := make([]Participant, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// Clone returns a deep copy of the participant.
func (p Participant) Clone() Participant {
	if p.CursorPosition != nil {
		c := *p.CursorPosition
		p.CursorPosition = &c
	}
	return p
}
