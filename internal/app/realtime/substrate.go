/*
Package realtime provides the publish/subscribe substrate rooms are synchronized over,
and the per-room PresenceChannel and BroadcastChannel abstractions built on top of it.

Delivery is at-most-once and best-effort: there is no acknowledgment, retry or history.
Deliveries from one publisher reach a given subscriber in publish order; there is no
ordering across publishers.
*/
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"linkroom/internal/app/room"
)

// ErrClosed is returned when operating on an unsubscribed subscription or a stopped substrate.
var ErrClosed = errors.New("realtime: subscription closed")

// PresenceEventKind identifies the kind of a presence event.
type PresenceEventKind string

const (
	// PresenceSync carries the full current snapshot of a topic's presence.
	PresenceSync PresenceEventKind = "sync"

	// PresenceJoin reports newly announced entries. Informational only.
	PresenceJoin PresenceEventKind = "join"

	// PresenceLeave reports withdrawn entries. Informational only.
	PresenceLeave PresenceEventKind = "leave"
)

// PresenceEntry is one announced participant, keyed by the announcing subscription.
type PresenceEntry struct {
	Key         string           `json:"key"`
	Participant room.Participant `json:"participant"`
	At          time.Time        `json:"at"`
}

// PresenceEvent is delivered to a subscription's presence handler.
// For PresenceSync, Entries is the complete snapshot; otherwise it holds the changed entries.
type PresenceEvent struct {
	Kind    PresenceEventKind
	Entries []PresenceEntry
}

// Participants flattens the entries into participants, in entry order.
func (e PresenceEvent) Participants() []room.Participant {
	out := make([]room.Participant, 0, len(e.Entries))
	for _, entry := range e.Entries {
		out = append(out, entry.Participant.Clone())
	}
	return out
}

// Handlers are bound to a subscription when it is created, so the first sync cannot be missed.
// Handlers of one subscription are never invoked concurrently.
type Handlers struct {
	OnPresence func(PresenceEvent)
	OnEvent    func(kind string, payload json.RawMessage)
}

// Substrate is the pub/sub transport rooms are synchronized over.
type Substrate interface {
	// Subscribe joins topic. A PresenceSync snapshot is delivered shortly after it returns.
	Subscribe(ctx context.Context, topic string, h Handlers) (Subscription, error)

	// Close stops the substrate; outstanding subscriptions stop receiving deliveries.
	Close() error
}

// Subscription is one membership of a topic.
type Subscription interface {
	// Topic returns the subscribed topic name.
	Topic() string

	// Key returns the presence key this subscription announces under.
	Key() string

	// Track announces (or re-announces) meta in the topic's presence.
	Track(ctx context.Context, meta room.Participant) error

	// Untrack withdraws this subscription's presence. It is a no-op if not tracked.
	Untrack(ctx context.Context) error

	// Publish fans payload out to the other subscribers of the topic under event kind.
	Publish(ctx context.Context, kind string, payload json.RawMessage) error

	// Unsubscribe leaves the topic, withdrawing presence. Once it returns no new handler
	// invocation starts; one already running may still finish. Calling it more than once
	// is a no-op.
	Unsubscribe(ctx context.Context) error
}

// sortEntries orders a presence snapshot by announce time, then key.
func sortEntries(entries []PresenceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].At.Equal(entries[j].At) {
			return entries[i].At.Before(entries[j].At)
		}
		return entries[i].Key < entries[j].Key
	})
}
