package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"linkroom/internal/app/room"
)

// PresenceChannel is the membership side of a room subscription.
type PresenceChannel struct {
	sub Subscription
}

// Announce makes p visible in the room's subsequent sync snapshots.
func (c *PresenceChannel) Announce(ctx context.Context, p room.Participant) error {
	return c.sub.Track(ctx, p)
}

// Withdraw removes the local participant from the room's presence.
func (c *PresenceChannel) Withdraw(ctx context.Context) error {
	return c.sub.Untrack(ctx)
}

// presenceDispatcher forwards sync snapshots to onSync. Join and leave events are only
// logged: a sync carrying the full membership always follows them.
func presenceDispatcher(logger zerolog.Logger, onSync func([]room.Participant)) func(PresenceEvent) {
	return func(ev PresenceEvent) {
		switch ev.Kind {
		case PresenceSync:
			if onSync != nil {
				onSync(ev.Participants())
			}

		case PresenceJoin, PresenceLeave:
			for _, e := range ev.Entries {
				logger.Debug().
					Str("kind", string(ev.Kind)).
					Str("participant_id", e.Participant.ID).
					Str("username", e.Participant.Username).
					Msg("Presence changed.")
			}

		default:
			logger.Warn().Str("kind", string(ev.Kind)).Msg("Unknown presence event kind.")
		}
	}
}
