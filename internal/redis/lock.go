package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rental/internal/lock"
)

const (
	lockKeyPrefix      = "lock:"
	lockRetryInterval  = 25 * time.Millisecond
	lockReleaseTimeout = 2 * time.Second
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client   *redis.Client
	ttl      time.Duration
	retry    time.Duration
	newToken func() string
	log      zerolog.Logger
}

// NewLockStore creates a new LockStore. ttl bounds how long a crashed
// holder can keep a key locked.
func NewLockStore(client *redis.Client, ttl time.Duration, log zerolog.Logger) *LockStore {
	return &LockStore{
		client:   client,
		ttl:      ttl,
		retry:    lockRetryInterval,
		newToken: func() string { return uuid.New().String() },
		log:      log,
	}
}

// Acquire polls SET NX PX until the key is taken or ctx is done.
func (s *LockStore) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := s.newToken()

	for {
		ok, err := s.client.SetNX(ctx, redisKey, token, s.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", lock.ErrTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return s.releaser(redisKey, token), nil
		}

		timer := time.NewTimer(s.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", lock.ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *LockStore) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.release(redisKey, token) })
	}
}

func (s *LockStore) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, s.client, []string{redisKey}, token).Err(); err != nil {
		// The key expires on its own after ttl.
		s.log.Warn().Err(err).Str("key", redisKey).Msg("failed to release lock")
	}
}
