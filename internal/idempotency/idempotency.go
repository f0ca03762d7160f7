// Package idempotency stores the response of a completed request so a
// retried request carrying the same Idempotency-Key gets the same answer.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope identifies who sent a keyed request.
type Scope struct {
	DocumentID     uint64
	SignerID       uint64
	IdempotencyKey string
}

// Record is a stored response.
type Record struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
}

// Key builds the store key for scope and endpoint.
func Key(scope Scope, endpoint string) string {
	return fmt.Sprintf("esign:idem:doc:%d:signer:%d:%s:%s", scope.DocumentID, scope.SignerID, endpoint, scope.IdempotencyKey)
}

// Replay returns the stored response for scope, if any.  Requests without
// a key are never replayed.
func Replay(ctx context.Context, st Store, scope Scope, endpoint string) (Record, bool, error) {
	if scope.IdempotencyKey == "" {
		return Record{}, false, nil
	}
	rec, found, err := st.Get(ctx, Key(scope, endpoint))
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

// Save stores the response for scope.  Requests without a key are skipped.
func Save(ctx context.Context, st Store, scope Scope, endpoint string, status int, body any) error {
	if scope.IdempotencyKey == "" {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return st.Put(ctx, Key(scope, endpoint), Record{Status: status, Body: raw})
}

// MemoryStore keeps records in process memory for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{recs: map[string]Record{}} }

func (m *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[key]
	return rec, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key] = rec
	return nil
}

// RedisStore keeps records in Redis for ttl.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	bs, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(bs, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Put stores rec unless a record already exists for key, so the first
// response wins when two instances race.
func (s *RedisStore) Put(ctx context.Context, key string, rec Record) error {
	bs, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.SetNX(ctx, key, bs, s.ttl).Err()
}
