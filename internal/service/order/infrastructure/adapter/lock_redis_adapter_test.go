package adapter

import (
	"context"
	"testing"
	"time"

	"fooddelivery/internal/pkg/redis"
	"fooddelivery/internal/service/order/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedisLocker(t *testing.T) (*RedisLockerAdapter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromUniversal(goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{mr.Addr()}}))
	t.Cleanup(func() { client.Close() })

	locker, err := NewRedisLockerAdapter(client)
	if err != nil {
		t.Fatal(err)
	}
	return locker, mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	ctx := context.Background()

	lock, err := locker.TryLock(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := locker.TryLock(ctx, "sweep", time.Minute); !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("second TryLock err = %v, want ErrLockNotAcquired", err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	again, err := locker.TryLock(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestRedisLockRenewsLeaseWhileHeld(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	ctx := context.Background()
	ttl := 300 * time.Millisecond

	lock, err := locker.TryLock(ctx, "sweep", ttl)
	if err != nil {
		t.Fatal(err)
	}

	// 两次快进合计超过 ttl，中间等待续期把过期时间重置
	mr.FastForward(250 * time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	mr.FastForward(250 * time.Millisecond)
	if !mr.Exists("lock:{sweep}") {
		t.Fatal("lock expired while still held")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("lock:{sweep}") {
		t.Fatal("lock key left behind after release")
	}
}

func TestRedisLockReleaseKeepsForeignLock(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	ctx := context.Background()

	lock, err := locker.TryLock(ctx, "sweep", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	// 锁过期后被另一个实例拿走
	if err := mr.Set("lock:{sweep}", "other-instance"); err != nil {
		t.Fatal(err)
	}

	if err := lock.Release(ctx); err == nil {
		t.Fatal("Release should report the lost lease")
	}
	if got, _ := mr.Get("lock:{sweep}"); got != "other-instance" {
		t.Fatalf("foreign lock overwritten: %q", got)
	}
}
