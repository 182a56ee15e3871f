// Package blobstore keeps opaque document bytes attached to records.
package blobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/google/uuid"
)

// Object is a stored blob with its content type.
type Object struct {
	Body        []byte
	ContentType string
}

type Store interface {
	Put(ctx context.Context, key string, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by stores that can hand out time-limited
// download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewStorageKey returns a fresh object key under the record's prefix.
func NewStorageKey(recordID string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("documents/%s/%d/%02d/%s", recordID, d.Year(), d.Month(), uuid.New())
}

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, key string, obj Object) error {
	body := append([]byte(nil), obj.Body...)
	m.mu.Lock()
	m.objects[key] = Object{Body: body, ContentType: obj.ContentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Object{}, common.ErrorNotFound
	}
	return Object{Body: append([]byte(nil), obj.Body...), ContentType: obj.ContentType}, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}
