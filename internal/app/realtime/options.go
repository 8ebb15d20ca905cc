package realtime

import "time"

const (
	// subscriberQueueSize bounds the deliveries buffered per subscription before drops.
	subscriberQueueSize = 256

	// TopicInactivityTimeout is how long an empty Hub topic lives before its loop shuts down.
	TopicInactivityTimeout = 5 * time.Minute

	// PresenceTTL is how long a Redis presence entry stays visible without a heartbeat.
	PresenceTTL = 30 * time.Second
)

type options struct {
	selfEcho    bool
	inactivity  time.Duration
	queueSize   int
	presenceTTL time.Duration
}

// Option configures a Substrate implementation. Options that do not apply to a
// given implementation are ignored by it.
type Option func(*options)

// WithSelfEcho makes publishers receive their own broadcasts.
func WithSelfEcho() Option {
	return func(o *options) { o.selfEcho = true }
}

// WithInactivityTimeout overrides TopicInactivityTimeout. Hub only.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) { o.inactivity = d }
}

// WithQueueSize overrides the per-subscription delivery queue size.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithPresenceTTL overrides PresenceTTL. Redis only. Durations under a millisecond are ignored.
func WithPresenceTTL(d time.Duration) Option {
	return func(o *options) {
		if d >= time.Millisecond {
			o.presenceTTL = d
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		inactivity:  TopicInactivityTimeout,
		queueSize:   subscriberQueueSize,
		presenceTTL: PresenceTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
