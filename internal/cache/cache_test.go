package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muandane/special-stack/storefront/internal/kv"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *kv.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, kv.NewRedis(client, kv.WithOpTimeout(time.Second))
}

var errStoreDown = errors.New("connection refused")

// failingStore fails the selected operations and delegates the rest.
type failingStore struct {
	kv.Store
	failGet, failSet, failScan bool
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errStoreDown
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if f.failSet {
		return errStoreDown
	}
	return f.Store.Set(ctx, key, val, ttl)
}

func (f *failingStore) SetWithTags(ctx context.Context, key string, val []byte, ttl time.Duration, sets []string) error {
	if f.failSet {
		return errStoreDown
	}
	return f.Store.SetWithTags(ctx, key, val, ttl, sets)
}

func (f *failingStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if f.failScan {
		return nil, errStoreDown
	}
	return f.Store.Keys(ctx, pattern)
}

type page struct {
	Items []string `json:"items"`
	Page  int      `json:"page"`
}

func countingCompute(calls *atomic.Int32, v page) Compute[page] {
	return func(context.Context) (page, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestGetOrComputeReadThrough(t *testing.T) {
	_, store := newTestStore(t)
	c := New(store)
	ctx := context.Background()
	var calls atomic.Int32
	want := page{Items: []string{"a", "b"}, Page: 1}
	entry := Entry{Key: "cache:product:list:1", TTL: time.Minute}

	got, err := GetOrCompute(ctx, c, entry, countingCompute(&calls, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), calls.Load())

	got, err = GetOrCompute(ctx, c, entry, countingCompute(&calls, page{Page: 99}))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), calls.Load(), "hit must not recompute")

	snap := c.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.Hits)
	assert.Equal(t, uint64(1), snap.Misses)
	assert.Equal(t, uint64(1), snap.Sets)
}

func TestGetOrComputeExpiry(t *testing.T) {
	mr, store := newTestStore(t)
	c := New(store)
	ctx := context.Background()
	var calls atomic.Int32
	entry := Entry{Key: "cache:category:all", TTL: 30 * time.Second}

	_, err := GetOrCompute(ctx, c, entry, countingCompute(&calls, page{Page: 1}))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL(entry.Key))

	mr.FastForward(31 * time.Second)
	_, err = GetOrCompute(ctx, c, entry, countingCompute(&calls, page{Page: 1}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrComputeDefaultTTL(t *testing.T) {
	mr, store := newTestStore(t)
	c := New(store, WithDefaultTTL(2*time.Minute))
	_, err := GetOrCompute(context.Background(), c, Entry{Key: "cache:banner:active"},
		func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, mr.TTL("cache:banner:active"))
}

func TestGetOrComputeRegistersTags(t *testing.T) {
	mr, store := newTestStore(t)
	c := New(store)
	_, err := GetOrCompute(context.Background(), c,
		Entry{Key: "products:page1", Tags: []string{"products", "category:abc"}},
		func(context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)

	for _, set := range []string{"tag:products", "tag:category:abc"} {
		members, err := mr.Members(set)
		require.NoError(t, err)
		assert.Equal(t, []string{"products:page1"}, members)
	}
}

func TestGetOrComputeFailOpen(t *testing.T) {
	tests := []struct {
		name  string
		store *failingStore
	}{
		{"get fails", &failingStore{failGet: true}},
		{"set fails", &failingStore{failSet: true}},
		{"both fail", &failingStore{failGet: true, failSet: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, inner := newTestStore(t)
			tt.store.Store = inner
			c := New(tt.store)
			var calls atomic.Int32
			want := page{Items: []string{"x"}}

			for i := 0; i < 2; i++ {
				got, err := GetOrCompute(context.Background(), c,
					Entry{Key: "cache:product:1", Tags: []string{TagProducts}},
					countingCompute(&calls, want))
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			assert.Equal(t, int32(2), calls.Load(), "nothing usable was cached")
			assert.NotZero(t, c.Stats().Errors()+c.Stats().WriteErrors())
			assert.LessOrEqual(t, c.Stats().Snapshot().ErrorRate(), 1.0)
		})
	}
}

func TestGetOrComputeUnavailableRedis(t *testing.T) {
	mr, store := newTestStore(t)
	mr.Close()
	c := New(store)

	got, err := GetOrCompute(context.Background(), c, Entry{Key: "cache:product:1"},
		func(context.Context) (string, error) { return "from-db", nil })
	require.NoError(t, err)
	assert.Equal(t, "from-db", got)
	assert.Equal(t, uint64(1), c.Stats().Errors(), "failed read")
	assert.Equal(t, uint64(1), c.Stats().WriteErrors(), "failed write")
}

func TestGetOrComputeComputeError(t *testing.T) {
	mr, store := newTestStore(t)
	c := New(store)
	boom := errors.New("db down")

	_, err := GetOrCompute(context.Background(), c, Entry{Key: "cache:product:1"},
		func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("cache:product:1"))
}

func TestGetOrComputeCompressesLargeValues(t *testing.T) {
	mr, store := newTestStore(t)
	c := New(store)
	big := page{Items: []string{strings.Repeat("product-", 500)}}

	_, err := GetOrCompute(context.Background(), c, Entry{Key: "cache:search:big"},
		func(context.Context) (page, error) { return big, nil })
	require.NoError(t, err)

	raw, err := mr.Get("cache:search:big")
	require.NoError(t, err)
	assert.Equal(t, encodingGzip, raw[0])
	assert.Less(t, len(raw), 4000)

	got, ok := Lookup[page](context.Background(), c, "cache:search:big")
	assert.True(t, ok)
	assert.Equal(t, big, got)
}

func TestGetOrComputeDiscardsCorruptEntries(t *testing.T) {
	mr, store := newTestStore(t)
	c := New(store)
	require.NoError(t, mr.Set("cache:product:1", "garbage"))

	got, err := GetOrCompute(context.Background(), c, Entry{Key: "cache:product:1"},
		func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	assert.Equal(t, uint64(1), c.Stats().Errors())

	cached, ok := Lookup[string](context.Background(), c, "cache:product:1")
	assert.True(t, ok)
	assert.Equal(t, "fresh", cached)
}

func TestRefreshOverwrites(t *testing.T) {
	_, store := newTestStore(t)
	c := New(store)
	ctx := context.Background()
	entry := Entry{Key: "cache:homepage:main"}

	_, err := GetOrCompute(ctx, c, entry, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = Refresh(ctx, c, entry, func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)

	got, ok := Lookup[int](ctx, c, entry.Key)
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestTagInvalidationScenario(t *testing.T) {
	_, store := newTestStore(t)
	c := New(store)
	inv := NewInvalidatorFor(c)
	ctx := context.Background()
	var calls atomic.Int32
	want := page{Items: []string{"p1", "p2"}, Page: 1}
	entry := Entry{Key: "products:page1", Tags: []string{"products", "category:abc"}}

	first, err := GetOrCompute(ctx, c, entry, countingCompute(&calls, want))
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, c, entry, countingCompute(&calls, want))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	n, err := inv.InvalidateByTag(ctx, "category:abc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	third, err := GetOrCompute(ctx, c, entry, countingCompute(&calls, want))
	require.NoError(t, err)
	assert.Equal(t, want, third)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrComputeMemoryStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(kv.NewMemory(ctx, 0))
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_, err := GetOrCompute(ctx, c, Entry{Key: "cache:product:1", Tags: []string{TagProducts}},
			countingCompute(&calls, page{Page: 1}))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestErrorRateCountsLookupsOnly(t *testing.T) {
	_, inner := newTestStore(t)
	c := New(&failingStore{Store: inner, failGet: true, failSet: true})

	for i := 0; i < 10; i++ {
		_, err := GetOrCompute(context.Background(), c, Entry{Key: "cache:product:1"},
			func(context.Context) (string, error) { return "from-db", nil })
		require.NoError(t, err)
	}
	snap := c.Stats().Snapshot()
	assert.Equal(t, uint64(10), snap.Misses)
	assert.Equal(t, uint64(10), snap.Errors)
	assert.Equal(t, uint64(10), snap.WriteErrors)
	assert.InDelta(t, 1.0, snap.ErrorRate(), 1e-9)
	assert.Equal(t, HealthCritical, Evaluate(snap).Status)
}
