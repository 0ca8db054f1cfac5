// Package idempotency remembers which provider events were already
// processed so redelivered webhooks become no-ops.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Ledger records processed event keys.
type Ledger interface {
	// Claim records key and reports whether this call was the first one.
	Claim(ctx context.Context, key string) (bool, error)

	// Release forgets key so a later delivery is processed again.
	Release(ctx context.Context, key string) error
}

// Memory is a process local ledger whose entries expire after ttl.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Claim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, k)
		}
	}

	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
