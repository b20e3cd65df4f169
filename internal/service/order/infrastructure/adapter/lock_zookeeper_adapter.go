package adapter

import (
	"context"
	"time"

	"fooddelivery/internal/service/order/domain"
	"fooddelivery/internal/service/order/port"
	"fooddelivery/internal/zookeeper"

	"github.com/pkg/errors"
)

// ZookeeperLockerAdapter 是 port.Locker 的 ZooKeeper 实现。
// 锁节点是临时节点，生命周期跟随会话，因此忽略 ttl。
type ZookeeperLockerAdapter struct {
	conn *zookeeper.Conn
}

func NewZookeeperLockerAdapter(conn *zookeeper.Conn) *ZookeeperLockerAdapter {
	return &ZookeeperLockerAdapter{conn: conn}
}

func (a *ZookeeperLockerAdapter) TryLock(_ context.Context, key string, _ time.Duration) (port.Lock, error) {
	lock, err := zookeeper.NewDistributedLock(a.conn, key)
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, zookeeper.ErrLockHeld) {
			return nil, domain.ErrLockNotAcquired
		}
		return nil, err
	}
	return zkLock{lock: lock}, nil
}

type zkLock struct {
	lock *zookeeper.DistributedLock
}

func (l zkLock) Release(context.Context) error {
	return l.lock.Unlock()
}
