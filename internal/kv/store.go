// Package kv is the key/value store adapter used by the cache layer.
//
// Two backends implement [Store]: [Redis] for shared deployments and [Memory]
// for single-process use and local development. Both apply a per-operation
// timeout derived from the caller's context.
package kv

import (
	"context"
	"time"
)

// Sentinel TTL values, matching the Redis TTL command.
const (
	NoExpiry time.Duration = -1
	Missing  time.Duration = -2
)

// DefaultOpTimeout bounds every store call when no timeout is configured.
const DefaultOpTimeout = 2 * time.Second

// Store is the command set the cache layer consumes.
type Store interface {
	// Get returns the raw value for key. found is false on a miss.
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	// Set stores val under key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetWithTags stores val and adds key to every tag set in one atomic step.
	SetWithTags(ctx context.Context, key string, val []byte, ttl time.Duration, tagSets []string) error
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Expire sets a new TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime, NoExpiry or Missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Keys returns every key matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Exists returns how many of keys exist.
	Exists(ctx context.Context, keys ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type options struct {
	opTimeout time.Duration
	prefix    string
}

// Option configures a Store implementation.
type Option func(*options)

// WithOpTimeout sets the per-operation timeout.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.opTimeout = d
		}
	}
}

// WithPrefix namespaces every key. Applies to the Redis backend.
func WithPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

func applyOptions(opts []Option) options {
	o := options{opTimeout: DefaultOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
