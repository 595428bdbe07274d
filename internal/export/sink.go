// Package export archives audit chains to blob storage so they can be
// re-verified away from the database.
package export

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrExists is returned by Sink.Put when the key is already taken. Archives
// are create-only.
var ErrExists = errors.New("archive object already exists")

// Sink stores archive objects.
type Sink interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// MemorySink keeps objects in a map.
type MemorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemorySink() *MemorySink { return &MemorySink{objects: map[string][]byte{}} }

func (m *MemorySink) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return ErrExists
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemorySink) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

func (m *MemorySink) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
