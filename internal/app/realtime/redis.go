package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"linkroom/internal/app/room"
	"linkroom/internal/pkg/logx"
	"linkroom/internal/pkg/randx"
)

const (
	redisKeyPrefix = "rt:"

	// redisOpTimeout bounds the Redis calls made from delivery and heartbeat goroutines.
	redisOpTimeout = 5 * time.Second

	envelopePresence = "presence"
	envelopeEvent    = "event"
)

// envelope is the message published on a topic's Redis channel.
type envelope struct {
	Type    string          `json:"type"`
	Sender  string          `json:"sender"`
	Kind    string          `json:"kind"`
	Entry   *PresenceEntry  `json:"entry,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// presenceRecord is the value stored per presence key in the topic's presence hash.
type presenceRecord struct {
	Entry PresenceEntry `json:"entry"`
	Seen  time.Time     `json:"seen"`
}

func redisChannel(topic string) string { return redisKeyPrefix + topic }

func redisPresenceKey(topic string) string { return redisKeyPrefix + topic + ":presence" }

// Redis is a Substrate shared across server instances. Broadcasts and presence diffs
// travel over Redis pub/sub; presence state lives in a hash per topic, and every diff
// makes subscribers re-read the hash into a sync snapshot.
type Redis struct {
	rdb    *redis.Client
	opts   options
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*redisSubscription]struct{}
}

// NewRedis returns a Substrate using rdb. The caller keeps ownership of rdb.
func NewRedis(rdb *redis.Client, opts ...Option) *Redis {
	return &Redis{
		rdb:    rdb,
		opts:   applyOptions(opts),
		logger: logx.Component("realtime.redis"),
		subs:   make(map[*redisSubscription]struct{}),
	}
}

func (r *Redis) Subscribe(ctx context.Context, topic string, handlers Handlers) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	pubsub := r.rdb.Subscribe(ctx, redisChannel(topic))

	// Wait for confirmation that subscription is created before publishing anything.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		r:        r,
		topic:    topic,
		key:      randx.PresenceKey(),
		handlers: handlers,
		pubsub:   pubsub,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   r.logger.With().Str("topic", topic).Logger(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = pubsub.Close()
		return nil, ErrClosed
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go sub.run(pubsub.Channel(redis.WithChannelSize(r.opts.queueSize)))
	go sub.reap()

	return sub, nil
}

// Close unsubscribes every outstanding subscription, withdrawing its presence.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subs))
	for s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	for _, s := range subs {
		if err := s.Unsubscribe(ctx); err != nil {
			r.logger.Warn().Err(err).Str("topic", s.topic).Msg("Failed to unsubscribe during shutdown.")
		}
	}

	r.logger.Info().Int("subscriptions", len(subs)).Msg("Redis substrate closed.")
	return nil
}

func (r *Redis) forget(s *redisSubscription) {
	r.mu.Lock()
	delete(r.subs, s)
	r.mu.Unlock()
}

// redisSubscription is a Subscription on a Redis topic.
type redisSubscription struct {
	r        *Redis
	topic    string
	key      string
	handlers Handlers
	pubsub   *redis.PubSub

	stopped atomic.Bool

	// mu guards entry and heartbeatStop.
	mu            sync.Mutex
	entry         *PresenceEntry
	heartbeatStop chan struct{}

	// quit stops the reaper; done is closed when the delivery goroutine exits.
	quit chan struct{}
	done chan struct{}

	logger zerolog.Logger
}

func (s *redisSubscription) Topic() string { return s.topic }

func (s *redisSubscription) Key() string { return s.key }

func (s *redisSubscription) Track(ctx context.Context, meta room.Participant) error {
	if s.stopped.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	entry := PresenceEntry{Key: s.key, Participant: meta.Clone(), At: time.Now()}
	if s.entry != nil {
		entry.At = s.entry.At
	}
	s.entry = &entry
	if s.heartbeatStop == nil {
		s.heartbeatStop = make(chan struct{})
		go s.heartbeat(s.heartbeatStop)
	}
	s.mu.Unlock()

	if _, err := s.writeEntry(ctx, entry); err != nil {
		return err
	}
	return s.publish(ctx, envelope{Type: envelopePresence, Kind: string(PresenceJoin), Entry: &entry})
}

func (s *redisSubscription) Untrack(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrClosed
	}
	return s.untrack(ctx)
}

func (s *redisSubscription) untrack(ctx context.Context) error {
	s.mu.Lock()
	entry := s.entry
	s.entry = nil
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	s.mu.Unlock()

	if entry == nil {
		return nil
	}

	if err := s.r.rdb.HDel(ctx, redisPresenceKey(s.topic), s.key).Err(); err != nil {
		return fmt.Errorf("withdraw presence from %s: %w", s.topic, err)
	}
	return s.publish(ctx, envelope{Type: envelopePresence, Kind: string(PresenceLeave), Entry: entry})
}

func (s *redisSubscription) Publish(ctx context.Context, kind string, payload json.RawMessage) error {
	if s.stopped.Load() {
		return ErrClosed
	}
	return s.publish(ctx, envelope{Type: envelopeEvent, Kind: kind, Payload: payload})
}

func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	if s.stopped.Swap(true) {
		return nil
	}
	defer s.r.forget(s)
	close(s.quit)

	err := s.untrack(ctx)

	if closeErr := s.pubsub.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close subscription to %s: %w", s.topic, closeErr)
	}
	return err
}

func (s *redisSubscription) publish(ctx context.Context, env envelope) error {
	env.Sender = s.key

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", env.Type, err)
	}

	if err := s.r.rdb.Publish(ctx, redisChannel(s.topic), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}

// writeEntry stores the entry with a fresh heartbeat and extends the hash expiry.
// It reports whether the field was newly created rather than refreshed.
func (s *redisSubscription) writeEntry(ctx context.Context, entry PresenceEntry) (bool, error) {
	data, err := json.Marshal(presenceRecord{Entry: entry, Seen: time.Now()})
	if err != nil {
		return false, fmt.Errorf("failed to marshal presence entry: %w", err)
	}

	key := redisPresenceKey(s.topic)
	var added *redis.IntCmd
	_, err = s.r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSet(ctx, key, s.key, data)
		pipe.PExpire(ctx, key, s.r.opts.presenceTTL)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("announce presence in %s: %w", s.topic, err)
	}
	return added.Val() > 0, nil
}

// heartbeat rewrites the tracked entry until stop is closed, so it does not age out.
func (s *redisSubscription) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(s.r.opts.presenceTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Held across the write so an Untrack cannot interleave and be undone.
			s.mu.Lock()
			if s.entry == nil {
				s.mu.Unlock()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
			entry := *s.entry
			created, err := s.writeEntry(ctx, entry)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Presence heartbeat failed.")
			} else if created {
				// Another instance reaped the entry while this one was stalled; announce it again.
				if err := s.publish(ctx, envelope{Type: envelopePresence, Kind: string(PresenceJoin), Entry: &entry}); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to re-announce presence.")
				}
			}
			cancel()
			s.mu.Unlock()
		}
	}
}

// reap removes lapsed entries left behind by instances that stopped without withdrawing,
// until the subscription is unsubscribed.
func (s *redisSubscription) reap() {
	ticker := time.NewTicker(s.r.opts.presenceTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
			if err := s.reapLapsed(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Presence reaping failed.")
			}
			cancel()
		}
	}
}

// reapLapsed deletes every entry whose heartbeat is older than the TTL and publishes a
// leave for it, so every subscriber of the topic receives a fresh sync. When several
// instances race, only the one whose HDEL removed the field publishes.
func (s *redisSubscription) reapLapsed(ctx context.Context) error {
	key := redisPresenceKey(s.topic)
	fields, err := s.r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read presence of %s: %w", s.topic, err)
	}

	cutoff := time.Now().Add(-s.r.opts.presenceTTL)
	for field, raw := range fields {
		var rec presenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || !rec.Seen.Before(cutoff) {
			continue
		}

		removed, err := s.r.rdb.HDel(ctx, key, field).Result()
		if err != nil {
			return fmt.Errorf("remove lapsed presence from %s: %w", s.topic, err)
		}
		if removed == 0 {
			continue
		}

		entry := rec.Entry
		if err := s.publish(ctx, envelope{Type: envelopePresence, Kind: string(PresenceLeave), Entry: &entry}); err != nil {
			return err
		}
		s.logger.Info().Str("presence_key", field).Msg("Removed lapsed presence entry.")
	}
	return nil
}

// snapshot reads the topic's presence hash, skipping entries whose heartbeat lapsed.
func (s *redisSubscription) snapshot(ctx context.Context) ([]PresenceEntry, error) {
	fields, err := s.r.rdb.HGetAll(ctx, redisPresenceKey(s.topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence of %s: %w", s.topic, err)
	}

	cutoff := time.Now().Add(-s.r.opts.presenceTTL)
	entries := make([]PresenceEntry, 0, len(fields))
	for field, raw := range fields {
		var rec presenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn().Err(err).Str("presence_key", field).Msg("Skipping malformed presence record.")
			continue
		}
		if rec.Seen.Before(cutoff) {
			continue
		}
		entries = append(entries, rec.Entry)
	}

	sortEntries(entries)
	return entries, nil
}

func (s *redisSubscription) deliverSync() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	entries, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to build presence snapshot.")
		return
	}
	s.dispatchPresence(PresenceEvent{Kind: PresenceSync, Entries: entries})
}

func (s *redisSubscription) dispatchPresence(ev PresenceEvent) {
	if s.stopped.Load() || s.handlers.OnPresence == nil {
		return
	}
	s.handlers.OnPresence(ev)
}

// run delivers the initial snapshot, then dispatches channel messages in arrival order.
func (s *redisSubscription) run(ch <-chan *redis.Message) {
	defer close(s.done)

	s.deliverSync()

	for msg := range ch {
		if s.stopped.Load() {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to unmarshal envelope.")
			continue
		}

		switch env.Type {
		case envelopePresence:
			if env.Entry != nil {
				s.dispatchPresence(PresenceEvent{
					Kind:    PresenceEventKind(env.Kind),
					Entries: []PresenceEntry{*env.Entry},
				})
			}
			s.deliverSync()

		case envelopeEvent:
			if env.Sender == s.key && !s.r.opts.selfEcho {
				continue
			}
			if s.handlers.OnEvent != nil && !s.stopped.Load() {
				s.handlers.OnEvent(env.Kind, env.Payload)
			}

		default:
			s.logger.Warn().Str("type", env.Type).Msg("Unknown envelope type.")
		}
	}

	s.logger.Debug().Str("presence_key", s.key).Msg("Subscription delivery loop finished.")
}
