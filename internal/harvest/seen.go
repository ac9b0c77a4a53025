package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenSet remembers product handles already processed so a product listed
// on two pages is emitted once.
type SeenSet interface {
	// Add reports whether key was new.
	Add(ctx context.Context, key string) (bool, error)
}

type MemorySeenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{seen: make(map[string]struct{})}
}

func (s *MemorySeenSet) Add(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

func (s *MemorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// SetClient is the subset of redis.Client used by RedisSeenSet.
type SetClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSeenSet keeps the set in a Redis SET so several processes working
// on the same run share it.
type RedisSeenSet struct {
	client SetClient
	key    string
	ttl    time.Duration
}

func NewRedisSeenSet(client SetClient, key string, ttl time.Duration) *RedisSeenSet {
	return &RedisSeenSet{client: client, key: key, ttl: ttl}
}

func (s *RedisSeenSet) Add(ctx context.Context, key string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add %q to seen set: %w", key, err)
	}
	if added == 1 && s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			return true, fmt.Errorf("failed to set seen set ttl: %w", err)
		}
	}
	return added == 1, nil
}
