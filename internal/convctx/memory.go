package convctx

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps contexts in process memory. Entries expire after ttl of
// inactivity; a zero ttl keeps them forever.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*Context
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{data: make(map[string]*Context), ttl: ttl, now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.data[id]
	if !ok {
		return New(id), nil
	}
	if m.ttl > 0 && m.now().Sub(c.UpdatedAt) > m.ttl {
		delete(m.data, id)
		return New(id), nil
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.UpdatedAt = m.now()
	m.data[c.ConversationID] = c.Clone()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// Len returns the number of stored contexts.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
