package kv

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Memory configuration
const (
	DefaultMemoryMaxSize = 100 * 1024 * 1024 // 100MB
	CleanupInterval      = 1 * time.Minute
)

var errWrongType = errors.New("kv: operation against a key holding the wrong kind of value")

type memoryEntry struct {
	data      []byte
	set       map[string]struct{}
	size      int64
	createdAt time.Time
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store. Values are bounded by a byte budget and the
// oldest entries are evicted first when it is exceeded.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	size    int64
	maxSize int64
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an in-process store and starts its expiry sweeper, which
// stops when ctx is cancelled.
func NewMemory(ctx context.Context, maxSize int64) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMemoryMaxSize
	}
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
	go m.cleanupRoutine(ctx)
	return m
}

func (m *Memory) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			m.deleteLocked(key)
		}
	}
}

// lookupLocked returns a live entry, dropping it if it has expired.
func (m *Memory) lookupLocked(key string) (*memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		m.deleteLocked(key)
		return nil, false
	}
	return e, true
}

func (m *Memory) deleteLocked(key string) bool {
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	m.size -= e.size
	delete(m.entries, key)
	return true
}

func (m *Memory) evictLocked(newSize int64) {
	for m.size+newSize > m.maxSize && len(m.entries) > 0 {
		var oldestKey string
		var oldest time.Time
		for key, e := range m.entries {
			if e.set != nil {
				continue
			}
			if oldestKey == "" || e.createdAt.Before(oldest) {
				oldestKey, oldest = key, e.createdAt
			}
		}
		if oldestKey == "" {
			return
		}
		m.deleteLocked(oldestKey)
	}
}

func (m *Memory) setLocked(key string, val []byte, ttl time.Duration) error {
	size := int64(len(val))
	if size > m.maxSize {
		return errors.Newf("kv: value for %s exceeds memory budget", key)
	}
	m.deleteLocked(key)
	m.evictLocked(size)
	now := m.now()
	e := &memoryEntry{
		data:      append([]byte(nil), val...),
		size:      size,
		createdAt: now,
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	m.size += size
	return nil
}

func (m *Memory) saddLocked(key string, members ...string) error {
	e, ok := m.lookupLocked(key)
	if !ok {
		e = &memoryEntry{set: make(map[string]struct{}), createdAt: m.now()}
		m.entries[key] = e
	}
	if e.set == nil {
		return errWrongType
	}
	for _, member := range members {
		if _, dup := e.set[member]; !dup {
			e.set[member] = struct{}{}
			e.size += int64(len(member))
			m.size += int64(len(member))
		}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return nil, false, nil
	}
	if e.set != nil {
		return nil, false, errWrongType
	}
	return append([]byte(nil), e.data...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(key, val, ttl)
}

func (m *Memory) SetWithTags(_ context.Context, key string, val []byte, ttl time.Duration, tagSets []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range tagSets {
		if e, ok := m.lookupLocked(set); ok && e.set == nil {
			return errWrongType
		}
	}
	if err := m.setLocked(key, val, ttl); err != nil {
		return err
	}
	for _, set := range tagSets {
		if err := m.saddLocked(set, key); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.lookupLocked(key); ok && m.deleteLocked(key) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		m.deleteLocked(key)
		return true, nil
	}
	e.expiresAt = m.now().Add(ttl)
	return true, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return Missing, nil
	}
	if e.expiresAt.IsZero() {
		return NoExpiry, nil
	}
	// Redis reports whole seconds.
	return e.expiresAt.Sub(m.now()).Truncate(time.Second), nil
}

// Keys matches with the same glob rules as Redis SCAN MATCH.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []string
	for key, e := range m.entries {
		if e.expired(now) {
			continue
		}
		if globMatch(pattern, key) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (m *Memory) Exists(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.lookupLocked(key); ok {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return []string{}, nil
	}
	if e.set == nil {
		return nil, errWrongType
	}
	out := make([]string, 0, len(e.set))
	for member := range e.set {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saddLocked(key, members...)
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return 0, nil
	}
	if e.set == nil {
		return 0, errWrongType
	}
	var n int64
	for _, member := range members {
		if _, present := e.set[member]; present {
			delete(e.set, member)
			e.size -= int64(len(member))
			m.size -= int64(len(member))
			n++
		}
	}
	if len(e.set) == 0 {
		m.deleteLocked(key)
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Size returns the bytes currently held.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}
