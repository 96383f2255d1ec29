// Package sessionstore persists the authenticated subject of a browser
// session and issues the tokens that carry the session key.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a verified phone stays signed in.
const DefaultTTL = 30 * 24 * time.Hour

func subjectKey(sessionKey string) string { return fmt.Sprintf("session:subject:%s", sessionKey) }

// RedisStore keeps subjects in Redis with a sliding TTL.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("sessionstore: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

// AuthenticatedSubject returns the subject bound to sessionKey and refreshes its TTL.
func (s *RedisStore) AuthenticatedSubject(ctx context.Context, sessionKey string) (string, bool, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return "", false, nil
	}
	key := subjectKey(sessionKey)
	subject, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sessionstore: get subject: %w", err)
	}
	if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
		return "", false, fmt.Errorf("sessionstore: refresh subject: %w", err)
	}
	return subject, subject != "", nil
}

// SetAuthenticatedSubject binds subjectID to sessionKey.
func (s *RedisStore) SetAuthenticatedSubject(ctx context.Context, sessionKey, subjectID string) error {
	if strings.TrimSpace(sessionKey) == "" || strings.TrimSpace(subjectID) == "" {
		return errors.New("sessionstore: session key and subject required")
	}
	if err := s.redis.Set(ctx, subjectKey(sessionKey), subjectID, s.ttl).Err(); err != nil {
		return fmt.Errorf("sessionstore: set subject: %w", err)
	}
	return nil
}

// Clear signs the session out.
func (s *RedisStore) Clear(ctx context.Context, sessionKey string) error {
	if err := s.redis.Del(ctx, subjectKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("sessionstore: clear subject: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	subject   string
	expiresAt time.Time
}

// NewMemoryStore builds an in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: map[string]memoryEntry{}}
}

func (s *MemoryStore) AuthenticatedSubject(ctx context.Context, sessionKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionKey]
	if !ok {
		return "", false, nil
	}
	now := s.now()
	if !now.Before(e.expiresAt) {
		delete(s.entries, sessionKey)
		return "", false, nil
	}
	e.expiresAt = now.Add(s.ttl)
	s.entries[sessionKey] = e
	return e.subject, true, nil
}

func (s *MemoryStore) SetAuthenticatedSubject(ctx context.Context, sessionKey, subjectID string) error {
	if strings.TrimSpace(sessionKey) == "" || strings.TrimSpace(subjectID) == "" {
		return errors.New("sessionstore: session key and subject required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionKey] = memoryEntry{subject: subjectID, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionKey)
	return nil
}
