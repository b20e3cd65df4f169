package port

import (
	"context"
	"time"
)

// Locker 是分布式互斥锁的出站端口，保证定时任务同一时刻只在一个实例上运行。
type Locker interface {
	// TryLock 尝试获取名为 key 的锁，不等待。
	// 锁已被其他实例持有时返回 domain.ErrLockNotAcquired。
	// ttl 是持有者崩溃后锁自动失效的上限。
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock 是一把已经获取到的锁。
type Lock interface {
	Release(ctx context.Context) error
}
