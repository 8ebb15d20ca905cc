package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkroom/internal/app/room"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recordedEvent struct {
	kind    string
	payload string
}

// recorder captures every delivery made to one subscription.
type recorder struct {
	mu       sync.Mutex
	syncs    [][]PresenceEntry
	advisory []PresenceEventKind
	events   []recordedEvent
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnPresence: func(ev PresenceEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if ev.Kind == PresenceSync {
				r.syncs = append(r.syncs, ev.Entries)
				return
			}
			r.advisory = append(r.advisory, ev.Kind)
		},
		OnEvent: func(kind string, payload json.RawMessage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, recordedEvent{kind: kind, payload: string(payload)})
		},
	}
}

// lastSyncNames returns the usernames of the latest snapshot, or nil before any sync.
func (r *recorder) lastSyncNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.syncs) == 0 {
		return nil
	}
	names := []string{}
	for _, e := range r.syncs[len(r.syncs)-1] {
		names = append(names, e.Participant.Username)
	}
	return names
}

func (r *recorder) syncCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.syncs)
}

func (r *recorder) recordedEvents() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func namesEventually(t *testing.T, r *recorder, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, r.lastSyncNames())
	}, waitFor, tick, "expected presence %v, last was %v", want, r.lastSyncNames())
}

func participant(name string) room.Participant {
	return room.Participant{ID: "id-" + name, Username: name, Color: "#3B82F6", Active: true}
}

// exerciseSubstrate runs the behaviour every Substrate implementation must share.
func exerciseSubstrate(t *testing.T, s Substrate) {
	t.Helper()
	ctx := context.Background()

	var ra, rb recorder
	a, err := s.Subscribe(ctx, "room:AB12CD", ra.handlers())
	require.NoError(t, err)
	b, err := s.Subscribe(ctx, "room:AB12CD", rb.handlers())
	require.NoError(t, err)

	assert.Equal(t, "room:AB12CD", a.Topic())
	assert.NotEqual(t, a.Key(), b.Key())

	// Initial snapshot arrives without any membership change.
	namesEventually(t, &ra)

	require.NoError(t, a.Track(ctx, participant("Ada")))
	namesEventually(t, &ra, "Ada")
	namesEventually(t, &rb, "Ada")

	// Snapshots are ordered by announce time.
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Track(ctx, participant("Grace")))
	namesEventually(t, &ra, "Ada", "Grace")
	namesEventually(t, &rb, "Ada", "Grace")

	// Re-tracking updates metadata but keeps the position.
	renamed := participant("Ada")
	renamed.CursorPosition = &room.Cursor{Line: 3, Column: 1}
	require.NoError(t, a.Track(ctx, renamed))
	namesEventually(t, &rb, "Ada", "Grace")

	require.NoError(t, a.Publish(ctx, "document_change", json.RawMessage(`{"content":"x","timestamp":1}`)))
	assert.Eventually(t, func() bool { return len(rb.recordedEvents()) == 1 }, waitFor, tick)
	assert.Equal(t, "document_change", rb.recordedEvents()[0].kind)
	assert.JSONEq(t, `{"content":"x","timestamp":1}`, rb.recordedEvents()[0].payload)
	assert.Empty(t, ra.recordedEvents(), "publisher must not receive its own broadcast")

	// Leaving withdraws presence for the remaining members.
	require.NoError(t, b.Unsubscribe(ctx))
	namesEventually(t, &ra, "Ada")
	assert.NoError(t, b.Unsubscribe(ctx), "second unsubscribe is a no-op")
	assert.ErrorIs(t, b.Publish(ctx, "document_change", json.RawMessage(`{}`)), ErrClosed)
	assert.ErrorIs(t, b.Track(ctx, participant("Grace")), ErrClosed)

	// A departed subscription receives nothing further.
	eventsBefore := len(rb.recordedEvents())
	syncsBefore := rb.syncCount()
	var rc recorder
	c, err := s.Subscribe(ctx, "room:AB12CD", rc.handlers())
	require.NoError(t, err)
	namesEventually(t, &rc, "Ada")
	require.NoError(t, c.Publish(ctx, "document_change", json.RawMessage(`{"content":"y","timestamp":2}`)))
	assert.Eventually(t, func() bool { return len(ra.recordedEvents()) == 1 }, waitFor, tick)
	assert.Len(t, rb.recordedEvents(), eventsBefore)
	assert.Equal(t, syncsBefore, rb.syncCount())

	require.NoError(t, a.Untrack(ctx))
	namesEventually(t, &rc)
	assert.NoError(t, a.Untrack(ctx), "untrack without presence is a no-op")

	require.NoError(t, a.Unsubscribe(ctx))
	require.NoError(t, c.Unsubscribe(ctx))
}

// exerciseTopicIsolation checks deliveries never cross topics.
func exerciseTopicIsolation(t *testing.T, s Substrate) {
	t.Helper()
	ctx := context.Background()

	var r1, r2 recorder
	one, err := s.Subscribe(ctx, "room:AAAAAA", r1.handlers())
	require.NoError(t, err)
	two, err := s.Subscribe(ctx, "room:BBBBBB", r2.handlers())
	require.NoError(t, err)
	var r3 recorder
	three, err := s.Subscribe(ctx, "room:AAAAAA", r3.handlers())
	require.NoError(t, err)

	require.NoError(t, one.Track(ctx, participant("Ada")))
	require.NoError(t, one.Publish(ctx, "document_change", json.RawMessage(`{"content":"a"}`)))

	namesEventually(t, &r3, "Ada")
	assert.Eventually(t, func() bool { return len(r3.recordedEvents()) == 1 }, waitFor, tick)

	namesEventually(t, &r2)
	assert.Empty(t, r2.recordedEvents())

	for _, sub := range []Subscription{one, two, three} {
		require.NoError(t, sub.Unsubscribe(ctx))
	}
}
