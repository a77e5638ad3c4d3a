package federation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultStateTTL bounds how long a user may take on the provider's consent
// screen.
const DefaultStateTTL = 10 * time.Minute

const statePrefix = "oauth:state:v1:"

// StateStore issues single-use OAuth state values.
type StateStore interface {
	Issue(ctx context.Context) (string, error)
	// Consume reports whether state was issued and not yet consumed or
	// expired. A state can be consumed once.
	Consume(ctx context.Context, state string) (bool, error)
}

// RedisStateStore keeps state values in Redis with a TTL.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore builds a Redis-backed state store.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func (s *RedisStateStore) Issue(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := s.client.SetNX(ctx, statePrefix+state, "1", s.ttl).Err(); err != nil {
		return "", err
	}
	return state, nil
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	n, err := s.client.Del(ctx, statePrefix+state).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MemoryStateStore keeps state values in process. Only suitable for a single
// instance.
type MemoryStateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]time.Time
}

// NewMemoryStateStore builds an in-process state store.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryStateStore{ttl: ttl, now: time.Now, states: make(map[string]time.Time)}
}

func (s *MemoryStateStore) Issue(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.states {
		if !now.Before(exp) {
			delete(s.states, k)
		}
	}
	state := uuid.NewString()
	s.states[state] = now.Add(s.ttl)
	return state, nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	return s.now().Before(exp), nil
}
