package domain

import (
	"context"
	"time"
)

// QuoteCache is a write-through cache of the freshest quote per token,
// readable by out-of-process consumers such as the dashboard.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, tokenID string) (Quote, error)
}

// LockManager provides distributed mutual exclusion. The pipeline takes a
// per-condition lock around the exposure read-modify-write so two concurrent
// fills on the same condition cannot both pass the cap check.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles calls to external APIs across process instances.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window, counting it when allowed.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Wait blocks until a request for key is allowed or ctx is cancelled.
	Wait(ctx context.Context, key string) error
}

// SignalBus announces paper intents and fills to external consumers over an
// ephemeral channel and a durable stream. Consumers subscribe and read out of
// process; this side only writes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
