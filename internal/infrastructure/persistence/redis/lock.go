package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
)

// releaseScript deletes the lock only if it still carries our token, so a
// run whose lock expired cannot release the next holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// MaterialLock is a grouping.MaterialLocker shared by all nodes that use
// the same Redis.
type MaterialLock struct {
	cache *Cache
	ttl   time.Duration
}

// NewMaterialLock creates a MaterialLock. A non-positive ttl selects
// TTLMaterialLock.
func NewMaterialLock(cache *Cache, ttl time.Duration) *MaterialLock {
	if ttl <= 0 {
		ttl = TTLMaterialLock
	}
	return &MaterialLock{cache: cache, ttl: ttl}
}

// Lock takes the material lock without waiting.
func (l *MaterialLock) Lock(ctx context.Context, materialID string) (func(), error) {
	key := LockKey("material:" + materialID)
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("redis: take material lock: %w", err)
	}
	if !ok {
		return nil, shared.Errorf("store", "Lock", shared.ErrConflict,
			"material %s is being grouped on another node", materialID)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err()
	}, nil
}
