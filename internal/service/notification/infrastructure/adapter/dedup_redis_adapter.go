package adapter

import (
	"context"
	"time"

	"fooddelivery/internal/pkg/redis"

	"github.com/pkg/errors"
)

// RedisDeduplicator 是 domain.Deduplicator 的 Redis 实现。
// 第一次处理某个事件时 SET NX 成功，TTL 之内的重复投递都会被识别出来。
type RedisDeduplicator struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewRedisDeduplicator(redisClient *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{redisClient: redisClient, ttl: ttl}
}

func (d *RedisDeduplicator) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	key := "notify:dedup:" + eventID
	ok, err := d.redisClient.GetClient().SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "dedup event %s", eventID)
	}
	return ok, nil
}
