package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
)

const defaultTurnLockTTL = 5 * time.Minute

// releaseLock deletes the lock only if this holder still owns it.
var releaseLock = redisv9.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCheckpointStore shares thread state between processes.
type RedisCheckpointStore struct {
	client  *redisv9.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisCheckpointStore(client *redisv9.Client, ttl time.Duration) *RedisCheckpointStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCheckpointStore{client: client, ttl: ttl, lockTTL: defaultTurnLockTTL}
}

func (s *RedisCheckpointStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.checkpointKey(threadID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint failed: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint failed: %w", err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	key := s.checkpointKey(cp.ThreadID)
	next := cloneCheckpoint(cp)
	next.Version = cp.Version + 1
	next.UpdatedAt = time.Now()
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal checkpoint failed: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redisv9.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redisv9.Nil):
		case err != nil:
			return err
		default:
			var stored Checkpoint
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("unmarshal checkpoint failed: %w", err)
			}
			current = stored.Version
		}
		if current != cp.Version {
			return ErrCheckpointConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redisv9.TxFailedErr) {
		return ErrCheckpointConflict
	}
	if err != nil {
		if errors.Is(err, ErrCheckpointConflict) {
			return err
		}
		return fmt.Errorf("redis save checkpoint failed: %w", err)
	}
	cp.Version = next.Version
	cp.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.checkpointKey(threadID)).Err(); err != nil {
		return fmt.Errorf("redis delete checkpoint failed: %w", err)
	}
	return nil
}

func (s *RedisCheckpointStore) Lock(ctx context.Context, threadID string) (func(), error) {
	key := s.lockKey(threadID)
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis acquire turn lock failed: %w", err)
	}
	if !ok {
		return nil, ErrSessionBusy
	}
	// Push the checkpoint's expiry past the longest possible turn.
	if err := s.client.PExpire(ctx, s.checkpointKey(threadID), s.holdTTL()).Err(); err != nil {
		_ = releaseLock.Run(ctx, s.client, []string{key}, token).Err()
		return nil, fmt.Errorf("redis refresh checkpoint ttl failed: %w", err)
	}
	return func() {
		// The request context may already be cancelled when the turn ends.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLock.Run(releaseCtx, s.client, []string{key}, token).Err()
	}, nil
}

// holdTTL is the checkpoint lifetime granted when a turn starts: the session
// TTL, but never shorter than the turn lock.
func (s *RedisCheckpointStore) holdTTL() time.Duration {
	if s.ttl < s.lockTTL {
		return s.lockTTL
	}
	return s.ttl
}

func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCheckpointStore) checkpointKey(threadID string) string {
	return fmt.Sprintf("chat:checkpoint:%s", threadID)
}

func (s *RedisCheckpointStore) lockKey(threadID string) string {
	return fmt.Sprintf("chat:checkpoint:lock:%s", threadID)
}
