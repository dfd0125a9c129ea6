package repository

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSettlementTTL bounds how long a settled id is remembered.
const DefaultSettlementTTL = 72 * time.Hour

// SettlementStore remembers which transactions already had their settled
// event fanned out. Claim reports true only for the first caller.
type SettlementStore interface {
	Claim(ctx context.Context, transactionID string) (bool, error)
}

type RedisSettlementStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSettlementStore(client *redis.Client, ttl time.Duration) *RedisSettlementStore {
	if ttl <= 0 {
		ttl = DefaultSettlementTTL
	}
	return &RedisSettlementStore{client: client, ttl: ttl}
}

func settledKey(transactionID string) string {
	return "idem:pos:settled:" + transactionID
}

func (s *RedisSettlementStore) Claim(ctx context.Context, transactionID string) (bool, error) {
	return s.client.SetNX(ctx, settledKey(transactionID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
}

// MemorySettlementStore is the in-process fallback. Entries never expire.
type MemorySettlementStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySettlementStore() *MemorySettlementStore {
	return &MemorySettlementStore{seen: make(map[string]struct{})}
}

func (s *MemorySettlementStore) Claim(_ context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[transactionID]; ok {
		return false, nil
	}
	s.seen[transactionID] = struct{}{}
	return true, nil
}
