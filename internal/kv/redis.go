package kv

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// Redis is a Store backed by a Redis-compatible server.
type Redis struct {
	client *redis.Client
	opts   options
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. The caller owns the client lifecycle
// unless Close is called.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	return &Redis{client: client, opts: applyOptions(opts)}
}

// DialRedis parses a redis:// URL and returns a connected store.
func DialRedis(ctx context.Context, url string, opts ...Option) (*Redis, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	r := NewRedis(redis.NewClient(ropts), opts...)
	if err := r.Ping(ctx); err != nil {
		_ = r.client.Close()
		return nil, err
	}
	return r, nil
}

func (r *Redis) opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.opts.opTimeout)
}

func (r *Redis) prefixKey(key string) string {
	if r.opts.prefix == "" {
		return key
	}
	return r.opts.prefix + ":" + key
}

func (r *Redis) prefixKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r.prefixKey(k)
	}
	return out
}

func (r *Redis) stripPrefix(key string) string {
	if r.opts.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, r.opts.prefix+":")
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	data, err := r.client.Get(qctx, r.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "kv get %s", key)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(qctx, r.prefixKey(key), val, ttl).Err(); err != nil {
		return errors.Wrapf(err, "kv set %s", key)
	}
	return nil
}

// SetWithTags runs SET and every SADD inside MULTI/EXEC so a failure never
// leaves the value registered under only some of its tags.
func (r *Redis) SetWithTags(ctx context.Context, key string, val []byte, ttl time.Duration, tagSets []string) error {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	_, err := r.client.TxPipelined(qctx, func(pipe redis.Pipeliner) error {
		pipe.Set(qctx, r.prefixKey(key), val, ttl)
		for _, set := range tagSets {
			pipe.SAdd(qctx, r.prefixKey(set), key)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "kv tagged set %s", key)
	}
	return nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	n, err := r.client.Del(qctx, r.prefixKeys(keys)...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "kv del")
	}
	return n, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	ok, err := r.client.Expire(qctx, r.prefixKey(key), ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "kv expire %s", key)
	}
	return ok, nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	d, err := r.client.TTL(qctx, r.prefixKey(key)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "kv ttl %s", key)
	}
	// go-redis passes the -1/-2 sentinels through unscaled.
	switch d {
	case -1:
		return NoExpiry, nil
	case -2:
		return Missing, nil
	}
	return d, nil
}

// Keys walks the key space with SCAN rather than KEYS so large databases are
// never blocked.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	var out []string
	iter := r.client.Scan(qctx, 0, r.prefixKey(pattern), scanBatch).Iterator()
	for iter.Next(qctx) {
		out = append(out, r.stripPrefix(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "kv scan %s", pattern)
	}
	return out, nil
}

func (r *Redis) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	n, err := r.client.Exists(qctx, r.prefixKeys(keys)...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "kv exists")
	}
	return n, nil
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	members, err := r.client.SMembers(qctx, r.prefixKey(key)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "kv smembers %s", key)
	}
	return members, nil
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SAdd(qctx, r.prefixKey(key), args...).Err(); err != nil {
		return errors.Wrapf(err, "kv sadd %s", key)
	}
	return nil
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := r.client.SRem(qctx, r.prefixKey(key), args...).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "kv srem %s", key)
	}
	return n, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	qctx, cancel := r.opCtx(ctx)
	defer cancel()
	if err := r.client.Ping(qctx).Err(); err != nil {
		return errors.Wrap(err, "kv ping")
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
