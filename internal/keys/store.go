package keys

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/medkeeper/internal/common"
)

// Store is a single string slot holding the exported master key.
type Store interface {
	// Load returns the stored value or common.ErrorNotFound when the slot is empty.
	Load(ctx context.Context) (string, error)
	// Save overwrites the slot.
	Save(ctx context.Context, value string) error
}

// MemoryStore keeps the slot in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.Mutex
	value string
	set   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return "", common.ErrorNotFound
	}
	return m.value, nil
}

func (m *MemoryStore) Save(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value, m.set = value, true
	return nil
}
