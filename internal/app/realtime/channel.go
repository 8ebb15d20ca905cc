package realtime

import (
	"context"

	"linkroom/internal/app/room"
	"linkroom/internal/pkg/logx"
)

// Topic returns the substrate topic of the room with the given code.
func Topic(code string) string {
	return "room:" + code
}

// RoomHandlers receive the events of a RoomChannel.
type RoomHandlers struct {
	// OnSync receives every presence snapshot; it is the authoritative participant set.
	OnSync func([]room.Participant)

	// OnDocumentChange receives document replacements published by other members.
	OnDocumentChange func(DocumentChange)
}

// RoomChannel bundles the presence and broadcast channels of one room, which share a
// single subscription to the room's topic.
type RoomChannel struct {
	Presence  *PresenceChannel
	Broadcast *BroadcastChannel

	code string
	sub  Subscription
}

// OpenRoomChannel subscribes to the room's topic with h bound from the start.
func OpenRoomChannel(ctx context.Context, s Substrate, code string, h RoomHandlers) (*RoomChannel, error) {
	logger := logx.Component("realtime.room").With().Str("room_code", code).Logger()

	sub, err := s.Subscribe(ctx, Topic(code), Handlers{
		OnPresence: presenceDispatcher(logger, h.OnSync),
		OnEvent:    eventDispatcher(logger, h.OnDocumentChange),
	})
	if err != nil {
		return nil, err
	}

	return &RoomChannel{
		Presence:  &PresenceChannel{sub: sub},
		Broadcast: &BroadcastChannel{sub: sub},
		code:      code,
		sub:       sub,
	}, nil
}

// Code returns the room code the channel is scoped to.
func (c *RoomChannel) Code() string { return c.code }

// Close withdraws presence and unsubscribes from the room's topic.
func (c *RoomChannel) Close(ctx context.Context) error {
	return c.sub.Unsubscribe(ctx)
}
