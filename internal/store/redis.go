package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

const (
	DefaultRedisPrefix = "bot_session:"
	appendRetries      = 16
)

// Redis stores one JSON list per session under <prefix><session id> with a
// native TTL. Appends are optimistic WATCH/MULTI transactions.
type Redis struct {
	client redis.UniversalClient
	prefix string
	opts   Options
	logger *zap.Logger
}

func NewRedis(client redis.UniversalClient, prefix string, opts Options, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, opts: opts.withDefaults(), logger: logger}
}

func (r *Redis) key(id string) string { return r.prefix + id }

func decodeTurns(raw []byte) ([]relay.Turn, error) {
	turns := []relay.Turn{}
	if len(raw) == 0 {
		return turns, nil
	}
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	return turns, nil
}

func (r *Redis) GetContext(ctx context.Context, sessionID string) ([]relay.Turn, error) {
	raw, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []relay.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTurns(raw)
}

func (r *Redis) Append(ctx context.Context, sessionID string, turns ...relay.Turn) error {
	key := r.key(sessionID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		history, err := decodeTurns(raw)
		if err != nil {
			// A corrupt record is replaced rather than blocking the session forever.
			r.logger.Warn("corrupt session replaced", zap.String("session_id", sessionID), zap.Error(err))
			history = nil
		}

		b, err := json.Marshal(merge(history, turns, r.opts.MaxTurns, r.opts.Now()))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.opts.TTL)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= appendRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.Debug("append conflict, retrying", zap.String("session_id", sessionID), zap.Int("attempt", attempt))
	}
	return ErrConflict
}

func (r *Redis) Clear(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSessionIDs walks the keyspace with SCAN, which may return a key more
// than once.
func (r *Redis) ListSessionIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	seen := make(map[string]struct{})
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), r.prefix)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Redis) TTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.key(sessionID)).Result()
	if err != nil {
		return 0, err
	}
	// -1 (no expiry) and -2 (missing) come back as negative durations.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
