package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSecretTTL bounds how long an unconsumed job secret stays in Redis.
const DefaultSecretTTL = 24 * time.Hour

// ErrSecretNotFound is returned when a job's secret expired or was already
// consumed.
var ErrSecretNotFound = errors.New("job secret not found")

// SecretStore keeps quiz secrets out of the jobs stream. Each secret sits
// under its own key with a TTL and is removed once its job is acknowledged.
type SecretStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSecretStore(client *redis.Client, ttl time.Duration) *SecretStore {
	if ttl <= 0 {
		ttl = DefaultSecretTTL
	}
	return &SecretStore{client: client, prefix: "quiz:job-secret:", ttl: ttl}
}

func (s *SecretStore) key(runID string) string { return s.prefix + runID }

func (s *SecretStore) Put(ctx context.Context, runID, secret string) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	if err := s.client.Set(ctx, s.key(runID), secret, s.ttl).Err(); err != nil {
		return fmt.Errorf("store secret for %s: %w", runID, err)
	}
	return nil
}

func (s *SecretStore) Get(ctx context.Context, runID string) (string, error) {
	v, err := s.client.Get(ctx, s.key(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load secret for %s: %w", runID, err)
	}
	return v, nil
}

func (s *SecretStore) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.key(runID)).Err()
}
