package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Object is a stored blob with its upload metadata.
type Object struct {
	Data         []byte
	ContentType  string
	CacheControl string
}

// Memory is an in-process ObjectStore for local runs without S3.
type Memory struct {
	mu        sync.RWMutex
	objects   map[string]Object
	publicURL string
}

var _ ObjectStore = (*Memory)(nil)

func NewMemory(publicURL string) *Memory {
	return &Memory{
		objects:   make(map[string]Object),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (m *Memory) Upload(_ context.Context, path string, data []byte, contentType, cacheControl string) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[path] = Object{Data: cp, ContentType: contentType, CacheControl: cacheControl}
	m.mu.Unlock()
	return nil
}

func (m *Memory) PublicURL(path string) string {
	return joinURL(m.publicURL, path)
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *Memory) Remove(_ context.Context, paths []string) error {
	m.mu.Lock()
	for _, p := range paths {
		delete(m.objects, p)
	}
	m.mu.Unlock()
	return nil
}

// Get returns the object stored at path.
func (m *Memory) Get(path string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	return obj, ok
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
