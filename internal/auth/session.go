package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/redis/go-redis/v9"
)

// Profile is the non-sensitive view of a signed-in user. It never holds
// credentials.
type Profile struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// ProfileOf builds the session profile for u.
func ProfileOf(u *User) Profile {
	return Profile{ID: u.ID, Name: u.Name, Role: u.Role, Permissions: EffectivePermissions(u.Role, u.CustomPermissions)}
}

// SessionStore keeps tokens under a short TTL and the profile under a long
// one. Missing or expired entries are common.ErrorNotFound.
type SessionStore interface {
	SaveTokens(ctx context.Context, sessionID string, pair *TokenPair) error
	Tokens(ctx context.Context, sessionID string) (*TokenPair, error)
	SaveProfile(ctx context.Context, sessionID string, p Profile) error
	Profile(ctx context.Context, sessionID string) (*Profile, error)
	Clear(ctx context.Context, sessionID string) error
}

type SessionTTL struct {
	Tokens  time.Duration
	Profile time.Duration
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu      sync.Mutex
	ttl     SessionTTL
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemorySessionStore(ttl SessionTTL) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, entries: make(map[string]memEntry), now: time.Now}
}

func (m *MemorySessionStore) put(key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = memEntry{value: b, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) get(key string, v any) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return common.ErrorNotFound
	}
	return json.Unmarshal(e.value, v)
}

func (m *MemorySessionStore) SaveTokens(_ context.Context, id string, pair *TokenPair) error {
	return m.put(tokensKey(id), pair, m.ttl.Tokens)
}

func (m *MemorySessionStore) Tokens(_ context.Context, id string) (*TokenPair, error) {
	var p TokenPair
	if err := m.get(tokensKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *MemorySessionStore) SaveProfile(_ context.Context, id string, p Profile) error {
	return m.put(profileKey(id), p, m.ttl.Profile)
}

func (m *MemorySessionStore) Profile(_ context.Context, id string) (*Profile, error) {
	var p Profile
	if err := m.get(profileKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *MemorySessionStore) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, tokensKey(id))
	delete(m.entries, profileKey(id))
	m.mu.Unlock()
	return nil
}

func tokensKey(id string) string  { return "medkeeper:session:" + id + ":tokens" }
func profileKey(id string) string { return "medkeeper:session:" + id + ":profile" }

// RedisSessionStore keeps sessions in Redis with per-key expiry.
type RedisSessionStore struct {
	rdb redis.UniversalClient
	ttl SessionTTL
}

func NewRedisSessionStore(rdb redis.UniversalClient, ttl SessionTTL) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (s *RedisSessionStore) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisSessionStore) get(ctx context.Context, key string, v any) error {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return common.ErrorNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	return json.Unmarshal(b, v)
}

func (s *RedisSessionStore) SaveTokens(ctx context.Context, id string, pair *TokenPair) error {
	return s.put(ctx, tokensKey(id), pair, s.ttl.Tokens)
}

func (s *RedisSessionStore) Tokens(ctx context.Context, id string) (*TokenPair, error) {
	var p TokenPair
	if err := s.get(ctx, tokensKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisSessionStore) SaveProfile(ctx context.Context, id string, p Profile) error {
	return s.put(ctx, profileKey(id), p, s.ttl.Profile)
}

func (s *RedisSessionStore) Profile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	if err := s.get(ctx, profileKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisSessionStore) Clear(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, tokensKey(id), profileKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", id, err)
	}
	return nil
}
