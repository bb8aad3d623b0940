package authstore

import (
	"context"
	"sync"
)

// Store persists a single token triple. Save must write all fields together;
// a partially written token must never be observable by Load.
type Store interface {
	// Save overwrites the stored token.
	Save(ctx context.Context, tok Token) error
	// Load returns the stored token and whether one exists.
	Load(ctx context.Context) (Token, bool, error)
	// Clear removes the stored token. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu  sync.Mutex
	tok Token
	set bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(ctx context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = tok
	m.set = true
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, m.set, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = Token{}
	m.set = false
	return nil
}
