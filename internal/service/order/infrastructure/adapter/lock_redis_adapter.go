package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/redis"
	"fooddelivery/internal/service/order/domain"
	"fooddelivery/internal/service/order/port"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	releaseLockScriptName = "release_lock"
	renewLockScriptName   = "renew_lock"
)

// RedisLockerAdapter 是 port.Locker 的 Redis 实现：SET NX PX 加锁，Lua 脚本比对 token 后解锁。
// 持有期间每隔 ttl/3 续期一次，任务运行时间超过 ttl 也不会丢锁；进程崩溃后锁在 ttl 内自动失效。
type RedisLockerAdapter struct {
	redisClient *redis.Client
}

// NewRedisLockerAdapter 在创建时加载解锁和续期脚本。
func NewRedisLockerAdapter(redisClient *redis.Client) (*RedisLockerAdapter, error) {
	if err := redisClient.LoadScriptFromContent(releaseLockScriptName, releaseLockScript); err != nil {
		return nil, fmt.Errorf("failed to load release lock script: %w", err)
	}
	if err := redisClient.LoadScriptFromContent(renewLockScriptName, renewLockScript); err != nil {
		return nil, fmt.Errorf("failed to load renew lock script: %w", err)
	}
	return &RedisLockerAdapter{redisClient: redisClient}, nil
}

func (a *RedisLockerAdapter) TryLock(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	lockKey := fmt.Sprintf("lock:{%s}", key)
	token := uuid.New().String()

	ok, err := a.redisClient.GetClient().SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire redis lock %s", lockKey)
	}
	if !ok {
		return nil, domain.ErrLockNotAcquired
	}
	lock := &redisLock{
		client: a.redisClient,
		key:    lockKey,
		token:  token,
		ttl:    ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lock.keepAlive(context.WithoutCancel(ctx))
	return lock, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// keepAlive 定期把锁的过期时间重置为 ttl，发现锁已不属于自己时停止。
func (l *redisLock) keepAlive(ctx context.Context) {
	defer close(l.done)
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			result, err := l.client.RunScript(ctx, renewLockScriptName, []string{l.key}, l.token, l.ttl.Milliseconds())
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("key", l.key).Msg("Failed to renew redis lock, retrying on next tick")
				continue
			}
			if n, ok := result.(int64); ok && n == 0 {
				logger.Ctx(ctx).Error().Str("key", l.key).Msg("Redis lock lost before release, stop renewing")
				return
			}
		}
	}
}

// Release 停止续期，只删除自己持有的锁；锁已过期并被他人获取时什么也不做。
func (l *redisLock) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	result, err := l.client.RunScript(ctx, releaseLockScriptName, []string{l.key}, l.token)
	if err != nil {
		return errors.Wrapf(err, "release redis lock %s", l.key)
	}
	if n, ok := result.(int64); ok && n == 0 {
		return errors.Errorf("redis lock %s expired before release", l.key)
	}
	return nil
}

var releaseLockScript = `
-- KEYS[1]: 锁的 key
-- ARGV[1]: 加锁时写入的 token
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

var renewLockScript = `
-- KEYS[1]: 锁的 key
-- ARGV[1]: 加锁时写入的 token
-- ARGV[2]: 新的过期时间（毫秒）
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('pexpire', KEYS[1], ARGV[2])
end
return 0
`
