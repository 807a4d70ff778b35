package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "notary:"
	redisSeqKey    = "notary:seq"
)

// RedisLedger stores records as JSON under notary:<proof_hash>.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a new ledger backed by Redis.
func NewRedisLedger(addr string, password string, db int) *RedisLedger {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLedger{client: rdb}
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(c *redis.Client) *RedisLedger {
	return &RedisLedger{client: c}
}

func (r *RedisLedger) ID() string { return "redis" }

// Ping checks connectivity.
func (r *RedisLedger) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisLedger) Close() error { return r.client.Close() }

func (r *RedisLedger) Notarize(ctx context.Context, proofHash string, timestamp int64) (*Record, error) {
	key := redisKeyPrefix + proofHash

	// Fast path: already notarized
	if existing, err := r.Lookup(ctx, proofHash); err == nil {
		return checkExisting(existing, timestamp)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	idx, err := r.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: sequence: %v", ErrUnavailable, err)
	}
	rec := Record{
		ProofHash: proofHash,
		Timestamp: timestamp,
		TxHash:    leafTxHash(proofHash, timestamp),
		LogIndex:  idx - 1,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	set, err := r.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: setnx: %v", ErrUnavailable, err)
	}
	if !set {
		// Lost a race with another writer of the same hash.
		existing, err := r.Lookup(ctx, proofHash)
		if err != nil {
			return nil, err
		}
		return checkExisting(existing, timestamp)
	}
	return &rec, nil
}

func (r *RedisLedger) Lookup(ctx context.Context, proofHash string) (*Record, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+proofHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
