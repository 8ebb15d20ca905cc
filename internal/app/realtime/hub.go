package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"linkroom/internal/pkg/logx"
)

// Hub is an in-process Substrate. Each topic runs its own event loop goroutine;
// each subscription has its own delivery queue drained by a dedicated goroutine.
type Hub struct {
	// topics stores all live topics, keyed by topic name.
	topics map[string]*topic

	// mu protects topics and closed.
	mu sync.Mutex

	closed bool

	// closing is closed when Close starts, releasing topics blocked on cleanup.
	closing chan struct{}

	// the channel used by topics to notify the Hub to forget them.
	cleanup chan *topic

	// topicWG tracks running topic loops; wg tracks the cleanup loop.
	topicWG sync.WaitGroup
	wg      sync.WaitGroup

	selfEcho   bool
	inactivity time.Duration
	queueSize  int

	logger zerolog.Logger
}

// NewHub constructs a Hub and starts its cleanup loop.
func NewHub(opts ...Option) *Hub {
	o := applyOptions(opts)

	h := &Hub{
		topics:     make(map[string]*topic),
		closing:    make(chan struct{}),
		cleanup:    make(chan *topic, 10),
		selfEcho:   o.selfEcho,
		inactivity: o.inactivity,
		queueSize:  o.queueSize,
		logger:     logx.Component("realtime.hub"),
	}

	h.wg.Add(1)
	go h.runCleanupLoop()

	return h
}

// runCleanupLoop removes topics whose loops have exited.
func (h *Hub) runCleanupLoop() {
	defer h.wg.Done()

	for t := range h.cleanup {
		h.mu.Lock()
		if current, ok := h.topics[t.name]; ok && current == t {
			delete(h.topics, t.name)
			h.logger.Debug().Str("topic", t.name).Msg("Topic removed.")
		}
		h.mu.Unlock()
	}
}

// getOrCreateTopic returns the live topic for name, starting its loop if needed.
func (h *Hub) getOrCreateTopic(name string) (*topic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	if t, ok := h.topics[name]; ok {
		select {
		case <-t.done:
		default:
			return t, nil
		}
	}

	t := newTopic(name, h)
	h.topics[name] = t

	h.topicWG.Add(1)
	go t.run()

	return t, nil
}

// Subscribe registers a new subscription on topicName.
func (h *Hub) Subscribe(ctx context.Context, topicName string, handlers Handlers) (Subscription, error) {
	for {
		t, err := h.getOrCreateTopic(topicName)
		if err != nil {
			return nil, err
		}

		sub := newHubSubscription(t, handlers, h.queueSize)

		err = t.do(ctx, topicRequest{kind: reqRegister, sub: sub})
		if errors.Is(err, ErrClosed) {
			// The topic shut down for inactivity between lookup and register.
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()
			if closed {
				return nil, ErrClosed
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		go sub.run()
		return sub, nil
	}
}

// Close stops every topic loop and the cleanup loop.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.closing)

	topics := make([]*topic, 0, len(h.topics))
	for _, t := range h.topics {
		topics = append(topics, t)
	}
	h.topics = map[string]*topic{}
	h.mu.Unlock()

	h.logger.Info().Int("topics", len(topics)).Msg("Shutting down hub...")

	for _, t := range topics {
		t.Stop()
	}
	h.topicWG.Wait()

	close(h.cleanup)
	h.wg.Wait()

	h.logger.Info().Msg("Hub shutdown complete.")
	return nil
}
