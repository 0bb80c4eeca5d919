package scanner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PassLock 扫描互斥锁；拿不到锁时本轮直接跳过
type PassLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript 仅删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 SET NX 的扫描锁
type RedisLock struct {
	client redis.UniversalClient
	key    string
}

// DefaultLockKey 默认锁键
const DefaultLockKey = "efiling:sla:scan:lock"

// NewRedisLock 创建扫描锁
func NewRedisLock(client redis.UniversalClient, key string) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{client: client, key: key}
}

// Acquire 尝试加锁
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	if l == nil || l.client == nil {
		return func() {}, true, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}
