package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// снимаем лок только если он всё ещё наш
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock берёт лок через SET NX с TTL.
func (r *RedisCache) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis lock")
	}
	return ok, nil
}

func (r *RedisCache) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, r.c, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}
