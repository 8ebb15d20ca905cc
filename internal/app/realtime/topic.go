package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"linkroom/internal/app/room"
	"linkroom/internal/pkg/metrics"
	"linkroom/internal/pkg/randx"
)

type requestKind int

const (
	reqRegister requestKind = iota
	reqUnregister
	reqTrack
	reqUntrack
	reqPublish
)

// topicRequest is processed by the topic loop; the outcome is written to reply.
type topicRequest struct {
	kind    requestKind
	sub     *hubSubscription
	meta    room.Participant
	event   string
	payload json.RawMessage
	reply   chan error
}

// delivery is one queued item for a subscription: a presence event or a broadcast.
type delivery struct {
	presence *PresenceEvent
	event    string
	payload  json.RawMessage
}

// topic is the event loop owning the subscribers and presence state of one topic name.
type topic struct {
	name string
	hub  *Hub

	// subs and presence are only touched by the run loop.
	subs     map[*hubSubscription]struct{}
	presence map[string]PresenceEntry

	requests chan topicRequest

	// stop signals the loop to exit; done is closed once it has.
	stop chan struct{}
	done chan struct{}

	// the timer used to track topic inactivity.
	shutdownTimer *time.Timer

	logger zerolog.Logger
}

func newTopic(name string, h *Hub) *topic {
	return &topic{
		name:          name,
		hub:           h,
		subs:          make(map[*hubSubscription]struct{}),
		presence:      make(map[string]PresenceEntry),
		requests:      make(chan topicRequest),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		shutdownTimer: time.NewTimer(h.inactivity),
		logger:        h.logger.With().Str("topic", name).Logger(),
	}
}

// Stop sends a signal to immediately terminate the topic's run loop.
func (t *topic) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

// do hands req to the loop and waits for its outcome.
func (t *topic) do(ctx context.Context, req topicRequest) error {
	req.reply = make(chan error, 1)

	select {
	case t.requests <- req:
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-t.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// run is the topic's event loop. All subscriber and presence mutations happen here.
func (t *topic) run() {
	defer t.hub.topicWG.Done()

	defer func() {
		t.shutdownTimer.Stop()

		for sub := range t.subs {
			close(sub.queue)
		}
		t.subs = nil

		close(t.done)

		select {
		case t.hub.cleanup <- t:
		case <-t.hub.closing:
		}

		t.logger.Debug().Msg("Topic loop finished.")
	}()

	for {
		select {
		case req := <-t.requests:
			req.reply <- t.handle(req)

		case <-t.shutdownTimer.C:
			if len(t.subs) == 0 {
				t.logger.Debug().Dur("timeout", t.hub.inactivity).Msg("Topic inactivity timeout reached.")
				return
			}

		case <-t.stop:
			return
		}
	}
}

func (t *topic) handle(req topicRequest) error {
	switch req.kind {
	case reqRegister:
		t.subs[req.sub] = struct{}{}
		if t.shutdownTimer.Stop() {
			select {
			case <-t.shutdownTimer.C:
			default:
			}
		}
		t.deliver(req.sub, delivery{presence: &PresenceEvent{Kind: PresenceSync, Entries: t.snapshot()}})
		t.logger.Debug().Str("presence_key", req.sub.key).Int("subscribers", len(t.subs)).Msg("Subscriber registered.")

	case reqUnregister:
		if _, ok := t.subs[req.sub]; !ok {
			return nil
		}
		delete(t.subs, req.sub)
		close(req.sub.queue)

		if entry, tracked := t.presence[req.sub.key]; tracked {
			delete(t.presence, req.sub.key)
			t.fanOutPresence(PresenceLeave, entry)
		}

		if len(t.subs) == 0 {
			t.shutdownTimer.Reset(t.hub.inactivity)
		}
		t.logger.Debug().Str("presence_key", req.sub.key).Int("subscribers", len(t.subs)).Msg("Subscriber unregistered.")

	case reqTrack:
		if _, ok := t.subs[req.sub]; !ok {
			return ErrClosed
		}
		entry := PresenceEntry{Key: req.sub.key, Participant: req.meta.Clone(), At: time.Now()}
		if prev, tracked := t.presence[req.sub.key]; tracked {
			entry.At = prev.At
		}
		t.presence[req.sub.key] = entry
		t.fanOutPresence(PresenceJoin, entry)

	case reqUntrack:
		if _, ok := t.subs[req.sub]; !ok {
			return ErrClosed
		}
		if entry, tracked := t.presence[req.sub.key]; tracked {
			delete(t.presence, req.sub.key)
			t.fanOutPresence(PresenceLeave, entry)
		}

	case reqPublish:
		if _, ok := t.subs[req.sub]; !ok {
			return ErrClosed
		}
		for sub := range t.subs {
			if sub == req.sub && !t.hub.selfEcho {
				continue
			}
			t.deliver(sub, delivery{event: req.event, payload: req.payload})
		}
	}

	return nil
}

// fanOutPresence delivers the change event followed by a fresh sync to every subscriber.
func (t *topic) fanOutPresence(kind PresenceEventKind, changed PresenceEntry) {
	snapshot := t.snapshot()
	for sub := range t.subs {
		t.deliver(sub, delivery{presence: &PresenceEvent{Kind: kind, Entries: []PresenceEntry{changed}}})
		t.deliver(sub, delivery{presence: &PresenceEvent{Kind: PresenceSync, Entries: snapshot}})
	}
}

func (t *topic) snapshot() []PresenceEntry {
	entries := make([]PresenceEntry, 0, len(t.presence))
	for _, e := range t.presence {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries
}

// deliver enqueues d without blocking the loop; a full queue drops the delivery.
func (t *topic) deliver(sub *hubSubscription, d delivery) {
	select {
	case sub.queue <- d:
	default:
		metrics.DeliveriesDropped.WithLabelValues("memory").Inc()
		t.logger.Warn().
			Str("presence_key", sub.key).
			Msg("Subscriber queue full, dropping delivery.")
	}
}

// hubSubscription is a Subscription on a Hub topic.
type hubSubscription struct {
	topic    *topic
	key      string
	handlers Handlers

	// queue is written only by the topic loop, which also closes it.
	queue chan delivery

	stopped atomic.Bool
}

func newHubSubscription(t *topic, h Handlers, queueSize int) *hubSubscription {
	return &hubSubscription{
		topic:    t,
		key:      randx.PresenceKey(),
		handlers: h,
		queue:    make(chan delivery, queueSize),
	}
}

// run drains the queue and dispatches to the handlers, one delivery at a time.
func (s *hubSubscription) run() {
	for d := range s.queue {
		if s.stopped.Load() {
			continue
		}

		if d.presence != nil {
			if s.handlers.OnPresence != nil {
				s.handlers.OnPresence(*d.presence)
			}
			continue
		}

		if s.handlers.OnEvent != nil {
			s.handlers.OnEvent(d.event, d.payload)
		}
	}
}

func (s *hubSubscription) Topic() string { return s.topic.name }

func (s *hubSubscription) Key() string { return s.key }

func (s *hubSubscription) Track(ctx context.Context, meta room.Participant) error {
	if s.stopped.Load() {
		return ErrClosed
	}
	return s.topic.do(ctx, topicRequest{kind: reqTrack, sub: s, meta: meta})
}

func (s *hubSubscription) Untrack(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrClosed
	}
	return s.topic.do(ctx, topicRequest{kind: reqUntrack, sub: s})
}

func (s *hubSubscription) Publish(ctx context.Context, kind string, payload json.RawMessage) error {
	if s.stopped.Load() {
		return ErrClosed
	}
	return s.topic.do(ctx, topicRequest{kind: reqPublish, sub: s, event: kind, payload: payload})
}

func (s *hubSubscription) Unsubscribe(ctx context.Context) error {
	if s.stopped.Swap(true) {
		return nil
	}

	err := s.topic.do(ctx, topicRequest{kind: reqUnregister, sub: s})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
