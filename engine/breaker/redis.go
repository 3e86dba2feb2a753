package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces circuit state keys in Redis.
const keyPrefix = "flowkit:breaker:"

// txRetries bounds optimistic-lock retries when concurrent engines race on
// the same circuit.
const txRetries = 5

// circuitDoc is the JSON document persisted per circuit. Settings are stored
// alongside the counters so every engine process applies the same thresholds.
type circuitDoc struct {
	State            State `json:"state"`
	Failures         int   `json:"failures"`
	Successes        int   `json:"successes"`
	Probing          bool  `json:"probing,omitempty"`
	OpenedAtUnixMs   int64 `json:"opened_at_unix_ms,omitempty"`
	FailureThreshold int   `json:"failure_threshold"`
	SuccessThreshold int   `json:"success_threshold"`
	OpenTimeoutMs    int64 `json:"open_timeout_ms"`
}

// RedisRegistry is a CircuitRegistry that shares circuit state across engine
// processes through Redis. State transitions run inside WATCH transactions so
// concurrent updates from different processes never lose counts.
type RedisRegistry struct {
	client *redis.Client
}

var _ CircuitRegistry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a Redis-backed circuit registry. The client should
// already be connected.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Allow implements CircuitRegistry.
func (r *RedisRegistry) Allow(ctx context.Context, id string, settings Settings) error {
	settings = settings.withDefaults()
	var open bool
	err := r.update(ctx, id, func(doc *circuitDoc) {
		doc.FailureThreshold = settings.FailureThreshold
		doc.SuccessThreshold = settings.SuccessThreshold
		doc.OpenTimeoutMs = settings.OpenTimeout.Milliseconds()
		switch doc.State {
		case StateHalfOpen:
			// One trial call at a time across all engine processes.
			if doc.Probing {
				open = true
				return
			}
			doc.Probing = true
		case StateOpen:
			openedAt := time.UnixMilli(doc.OpenedAtUnixMs)
			if time.Since(openedAt) < time.Duration(doc.OpenTimeoutMs)*time.Millisecond {
				open = true
				return
			}
			doc.State = StateHalfOpen
			doc.Successes = 0
			doc.Probing = true
		}
	})
	if err != nil {
		return err
	}
	if open {
		return ErrOpen
	}
	return nil
}

// RecordSuccess implements CircuitRegistry.
func (r *RedisRegistry) RecordSuccess(ctx context.Context, id string) error {
	return r.update(ctx, id, func(doc *circuitDoc) {
		switch doc.State {
		case StateClosed:
			doc.Failures = 0
		case StateHalfOpen:
			doc.Probing = false
			doc.Successes++
			if doc.Successes >= doc.SuccessThreshold {
				doc.State = StateClosed
				doc.Failures = 0
				doc.Successes = 0
			}
		}
	})
}

// RecordFailure implements CircuitRegistry.
func (r *RedisRegistry) RecordFailure(ctx context.Context, id string) error {
	return r.update(ctx, id, func(doc *circuitDoc) {
		switch doc.State {
		case StateClosed:
			doc.Failures++
			if doc.Failures >= doc.FailureThreshold {
				trip(doc)
			}
		case StateHalfOpen:
			trip(doc)
		}
	})
}

func trip(doc *circuitDoc) {
	doc.State = StateOpen
	doc.OpenedAtUnixMs = time.Now().UnixMilli()
	doc.Failures = 0
	doc.Successes = 0
	doc.Probing = false
}

// Snapshot implements CircuitRegistry. Unknown ids report a closed circuit.
func (r *RedisRegistry) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	raw, err := r.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{State: StateClosed}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get circuit %q: %w", id, err)
	}
	var doc circuitDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode circuit %q: %w", id, err)
	}
	snap := Snapshot{State: doc.State, Failures: doc.Failures, Successes: doc.Successes}
	if doc.OpenedAtUnixMs != 0 {
		snap.OpenedAt = time.UnixMilli(doc.OpenedAtUnixMs)
	}
	return snap, nil
}

// update runs fn against the circuit document inside a WATCH transaction,
// retrying on optimistic-lock conflicts.
func (r *RedisRegistry) update(ctx context.Context, id string, fn func(*circuitDoc)) error {
	key := keyPrefix + id
	txn := func(tx *redis.Tx) error {
		doc := circuitDoc{State: StateClosed}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// First use of this circuit.
		case err != nil:
			return fmt.Errorf("redis get circuit %q: %w", id, err)
		default:
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode circuit %q: %w", id, err)
			}
		}

		fn(&doc)

		encoded, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("encode circuit %q: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update circuit %q: too many conflicts", id)
}
