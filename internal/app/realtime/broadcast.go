package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// EventDocumentChange carries a full replacement of the room document.
const EventDocumentChange = "document_change"

// DocumentChange is the payload of EventDocumentChange. Timestamp is the sender's wall
// clock in Unix milliseconds and is informational only.
type DocumentChange struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// BroadcastChannel is the event side of a room subscription.
type BroadcastChannel struct {
	sub Subscription
}

// Publish encodes v as JSON and fans it out to the room under kind.
func (c *BroadcastChannel) Publish(ctx context.Context, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return c.sub.Publish(ctx, kind, payload)
}

// PublishDocumentChange broadcasts a document replacement.
func (c *BroadcastChannel) PublishDocumentChange(ctx context.Context, change DocumentChange) error {
	return c.Publish(ctx, EventDocumentChange, change)
}

// eventDispatcher decodes known event kinds and routes them to their handler.
func eventDispatcher(logger zerolog.Logger, onDocumentChange func(DocumentChange)) func(string, json.RawMessage) {
	return func(kind string, payload json.RawMessage) {
		switch kind {
		case EventDocumentChange:
			var change DocumentChange
			if err := json.Unmarshal(payload, &change); err != nil {
				logger.Warn().Err(err).Msg("Dropping malformed document change.")
				return
			}
			if onDocumentChange != nil {
				onDocumentChange(change)
			}

		default:
			logger.Debug().Str("kind", kind).Msg("Ignoring unhandled event kind.")
		}
	}
}
