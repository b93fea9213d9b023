package objectstore

import (
	"context"
	"sort"
	"sync"
)

// Object is a stored blob held by the in-memory backend.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in process memory. It backs the `memory` driver used
// for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store serving URLs under baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStore{
		objects: make(map[string]Object),
		baseURL: baseURL,
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrMissingKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return &RemoveError{Keys: compactKeys(keys), Cause: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range compactKeys(keys) {
		delete(m.objects, key)
	}
	return nil
}

func (m *MemoryStore) PublicURL(key string) string {
	return joinPublicURL(m.baseURL, key)
}

// Get returns the object stored under key.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	object, ok := m.objects[key]
	return object, ok
}

// Keys lists every stored key in lexical order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
