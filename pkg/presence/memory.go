package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It suits single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
	closed  bool
	done    chan struct{}
}

type record struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired records are removed.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &MemoryStore{
		records: make(map[string]*record),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanupLoop(cfg.cleanupInterval)
	return m
}

// Save stores a copy of data under key.
func (m *MemoryStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if ttl <= 0 {
		delete(m.records, key)
		return nil
	}
	m.records[key] = &record{
		data:      append([]byte(nil), data...),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Load returns a copy of the data under key.
func (m *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	r, ok := m.records[key]
	if !ok || !m.now().Before(r.expiresAt) {
		return nil, nil
	}
	return append([]byte(nil), r.data...), nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.records, key)
	return nil
}

// Touch extends the expiry of an unexpired key.
func (m *MemoryStore) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	r, ok := m.records[key]
	if !ok || !m.now().Before(r.expiresAt) {
		return false, nil
	}
	r.expiresAt = m.now().Add(ttl)
	return true, nil
}

// Close stops the cleanup loop and drops every record.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.records = nil
	return nil
}

// Len returns the number of records held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	now := m.now()
	for key, r := range m.records {
		if !now.Before(r.expiresAt) {
			delete(m.records, key)
		}
	}
}
