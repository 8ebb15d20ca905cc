package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"linkroom/internal/app/directory"
	"linkroom/internal/app/realtime"
	"linkroom/internal/app/room"
)

// fakeSubstrate records subscriptions and lets tests drive deliveries by hand.
type fakeSubstrate struct {
	mu           sync.Mutex
	subs         []*fakeSubscription
	subscribeErr error
	trackErr     error
	publishErr   error
}

func (f *fakeSubstrate) Subscribe(_ context.Context, topic string, h realtime.Handlers) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSubscription{parent: f, topic: topic, handlers: h}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSubstrate) Close() error { return nil }

func (f *fakeSubstrate) last() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeSubstrate) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeSubscription struct {
	parent   *fakeSubstrate
	topic    string
	handlers realtime.Handlers

	mu           sync.Mutex
	tracked      *room.Participant
	published    []realtime.DocumentChange
	unsubscribed bool
	calls        []string
}

func (s *fakeSubscription) Topic() string { return s.topic }

func (s *fakeSubscription) Key() string { return "fake-key" }

func (s *fakeSubscription) Track(_ context.Context, meta room.Participant) error {
	if s.parent.trackErr != nil {
		return s.parent.trackErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = &meta
	s.calls = append(s.calls, "track")
	return nil
}

func (s *fakeSubscription) Untrack(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = nil
	s.calls = append(s.calls, "untrack")
	return nil
}

func (s *fakeSubscription) Publish(_ context.Context, _ string, payload json.RawMessage) error {
	if s.parent.publishErr != nil {
		return s.parent.publishErr
	}
	var change realtime.DocumentChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, change)
	return nil
}

func (s *fakeSubscription) Unsubscribe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	s.tracked = nil
	s.calls = append(s.calls, "unsubscribe")
	return nil
}

func (s *fakeSubscription) recordedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSubscription) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// sync delivers a presence snapshot as the substrate would.
func (s *fakeSubscription) sync(ps ...room.Participant) {
	entries := make([]realtime.PresenceEntry, 0, len(ps))
	for i, p := range ps {
		entries = append(entries, realtime.PresenceEntry{Key: p.ID, Participant: p, At: time.Unix(int64(i), 0)})
	}
	s.handlers.OnPresence(realtime.PresenceEvent{Kind: realtime.PresenceSync, Entries: entries})
}

func (s *fakeSubscription) deliverDocument(content string, ts int64) {
	payload, _ := json.Marshal(realtime.DocumentChange{Content: content, Timestamp: ts})
	s.handlers.OnEvent(realtime.EventDocumentChange, payload)
}

// countingDirectory wraps a directory and counts the calls reaching it.
type countingDirectory struct {
	directory.Directory

	mu      sync.Mutex
	lookups int
	saves   int
}

func (d *countingDirectory) Lookup(ctx context.Context, code string) (room.Room, error) {
	d.mu.Lock()
	d.lookups++
	d.mu.Unlock()
	return d.Directory.Lookup(ctx, code)
}

func (d *countingDirectory) SaveDocument(ctx context.Context, code, content string, at time.Time) error {
	d.mu.Lock()
	d.saves++
	d.mu.Unlock()
	return d.Directory.SaveDocument(ctx, code, content, at)
}

func (d *countingDirectory) calls() (lookups, saves int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups, d.saves
}

// failingDirectory fails every call with err.
type failingDirectory struct {
	err error
}

func (d failingDirectory) Lookup(context.Context, string) (room.Room, error) { return room.Room{}, d.err }

func (d failingDirectory) Register(context.Context, room.Room) error { return d.err }

func (d failingDirectory) SaveDocument(context.Context, string, string, time.Time) error { return d.err }

func (d failingDirectory) Close() error { return nil }

// blockingDirectory holds Lookup until release is closed.
type blockingDirectory struct {
	directory.Directory
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDirectory) Lookup(ctx context.Context, code string) (room.Room, error) {
	close(d.entered)
	<-d.release
	return d.Directory.Lookup(ctx, code)
}

// sequence returns a code generator yielding codes in order, repeating the last one.
func sequence(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	}
}
