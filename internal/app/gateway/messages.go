/*
Package gateway bridges browser WebSocket connections to room sessions.

This file defines the frame envelope exchanged with the browser and the payload of each
frame type. Inbound frames are commands for the connection's session; outbound frames
report command results and push the session state after every change.
*/
package gateway

import (
	"bytes"
	"encoding/json"

	"linkroom/internal/app/docview"
	"linkroom/internal/app/room"
	"linkroom/internal/app/session"
	"linkroom/internal/pkg/errs"
)

// FrameType identifies the kind of a frame.
type FrameType string

// Inbound frame types.
const (
	TypeCreateRoom     FrameType = "create_room"
	TypeJoinRoom       FrameType = "join_room"
	TypeLeaveRoom      FrameType = "leave_room"
	TypeUpdateDocument FrameType = "update_document"
)

// Outbound frame types.
const (
	TypeRoomCreated FrameType = "room_created"
	TypeJoinResult  FrameType = "join_result"
	TypeState       FrameType = "state"
	TypeError       FrameType = "error"
)

// Frame is the envelope of every WebSocket message in both directions.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CreateRoomPayload struct {
	Username string `json:"username"`
}

type JoinRoomPayload struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type UpdateDocumentPayload struct {
	Content string `json:"content"`
}

type RoomCreatedPayload struct {
	Code string `json:"code"`
}

type JoinResultPayload struct {
	OK   bool   `json:"ok"`
	Code string `json:"code"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatePayload mirrors session.State for the browser, plus the derived file views.
type StatePayload struct {
	Phase        string             `json:"phase"`
	Room         *room.Room         `json:"currentRoom"`
	CurrentUser  *room.Participant  `json:"currentUser"`
	Participants []room.Participant `json:"participants"`
	Views        *docview.Views     `json:"views,omitempty"`
}

func newStatePayload(s session.State) StatePayload {
	p := StatePayload{
		Phase:        s.Phase.String(),
		Room:         s.Room,
		CurrentUser:  s.Self,
		Participants: s.Participants,
	}
	if p.Participants == nil {
		p.Participants = []room.Participant{}
	}
	if s.Room != nil {
		views := docview.Extract(s.Room.Document)
		p.Views = &views
	}
	return p
}

// encodeFrame builds the wire form of a frame carrying payload.
func encodeFrame(t FrameType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: t, Payload: raw})
}

// bindPayload strictly decodes a frame payload into dst: unknown fields and trailing
// data are rejected.
func bindPayload(raw json.RawMessage, dst any) *errs.CustomError {
	if len(raw) == 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	return nil
}
