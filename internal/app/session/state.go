package session

import "linkroom/internal/app/room"

// Phase is the lifecycle position of a session.
type Phase int

const (
	// Idle means the session is not in a room.
	Idle Phase = iota

	// Creating means a room is being registered and subscribed to.
	Creating

	// Joining means a room is being looked up and subscribed to.
	Joining

	// InRoom means the session is subscribed and its state is populated.
	InRoom
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Creating:
		return "creating"
	case Joining:
		return "joining"
	case InRoom:
		return "in_room"
	default:
		return "unknown"
	}
}

// State is a copy of a session's observable state. Room, Self and Participants are
// only set while Phase is InRoom.
type State struct {
	Phase        Phase
	Room         *room.Room
	Self         *room.Participant
	Participants []room.Participant
}

// Document returns the current document content, or "" outside a room.
func (s State) Document() string {
	if s.Room == nil {
		return ""
	}
	return s.Room.Document
}
