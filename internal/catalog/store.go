package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store persists treatments and branches as JSON documents in Redis.
type Store struct {
	redis *redis.Client
}

// NewStore creates a catalog store.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("catalog: redis client required")
	}
	return &Store{redis: redisClient}
}

func treatmentKey(id string) string { return fmt.Sprintf("catalog:treatment:%s", id) }
func branchKey(id string) string    { return fmt.Sprintf("catalog:branch:%s", id) }

// Treatment loads a treatment by id.
func (s *Store) Treatment(ctx context.Context, id string) (Treatment, error) {
	var t Treatment
	if err := s.get(ctx, treatmentKey(id), &t); err != nil {
		return Treatment{}, fmt.Errorf("catalog: get treatment %s: %w", id, err)
	}
	return t, nil
}

// Branch loads a branch by id.
func (s *Store) Branch(ctx context.Context, id string) (Branch, error) {
	var b Branch
	if err := s.get(ctx, branchKey(id), &b); err != nil {
		return Branch{}, fmt.Errorf("catalog: get branch %s: %w", id, err)
	}
	return b, nil
}

// SaveTreatment validates and stores a treatment.
func (s *Store) SaveTreatment(ctx context.Context, t Treatment) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: treatment id required", ErrInvalid)
	}
	if t.DurationMinutes <= 0 {
		return fmt.Errorf("%w: treatment duration must be positive", ErrInvalid)
	}
	return s.set(ctx, treatmentKey(t.ID), t)
}

// SaveBranch validates and stores a branch.
func (s *Store) SaveBranch(ctx context.Context, b Branch) error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: branch id required", ErrInvalid)
	}
	if b.Hours == nil {
		b.Hours = DefaultHours()
	}
	return s.set(ctx, branchKey(b.ID), b)
}

func (s *Store) get(ctx context.Context, key string, dst any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (s *Store) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("catalog: marshal: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("catalog: set %s: %w", key, err)
	}
	return nil
}
