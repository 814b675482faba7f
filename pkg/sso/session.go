package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrSessionNotFound is returned when a session is absent or expired
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions by ID
type SessionStore interface {
	Put(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// NewSessionID generates a random session ID
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RedisSessionStore stores sessions in Redis so they are shared across instances
type RedisSessionStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisSessionStore creates a new Redis-backed session store
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "websso:session"
	}
	return &RedisSessionStore{redis: client, prefix: prefix}
}

func (s *RedisSessionStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// Put stores the session until its expiry
func (s *RedisSessionStore) Put(ctx context.Context, session *Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Get loads a session
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

// Delete removes a session
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// MemorySessionStore keeps sessions in an in-process LRU for single-instance deployments
type MemorySessionStore struct {
	cache *lru.LRU[string, *Session]
	now   func() time.Time
}

// NewMemorySessionStore creates an in-memory store holding at most size sessions for ttl
func NewMemorySessionStore(size int, ttl time.Duration) *MemorySessionStore {
	if size < 10 {
		size = 10 // Minimum 10 entries
	}
	return &MemorySessionStore{
		cache: lru.NewLRU[string, *Session](size, nil, ttl),
		now:   time.Now,
	}
}

// Put stores the session
func (s *MemorySessionStore) Put(ctx context.Context, session *Session) error {
	if session.Expired(s.now()) {
		return fmt.Errorf("session %s already expired", session.ID)
	}
	copied := *session
	s.cache.Add(session.ID, &copied)
	return nil
}

// Get loads a session
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	session, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.Expired(s.now()) {
		s.cache.Remove(id)
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// Delete removes a session
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.cache.Remove(id)
	return nil
}

// Len returns the number of cached sessions
func (s *MemorySessionStore) Len() int {
	return s.cache.Len()
}
