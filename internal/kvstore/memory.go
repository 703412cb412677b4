package kvstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-process Store for tests and ephemeral sessions.
// Documents are copied on the way in and out so callers can never alias
// the store's internal state.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]json.RawMessage)}
}

func (m *Memory) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.docs[NormalizeKey(key)]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(value))
	copy(out, value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value json.RawMessage) error {
	if err := checkValue(value); err != nil {
		return err
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[NormalizeKey(key)] = stored
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, NormalizeKey(key))
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; it exists so the two adapters are interchangeable.
func (m *Memory) Close() error {
	return nil
}

// Len reports the number of stored documents. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
