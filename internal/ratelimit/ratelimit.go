// Package ratelimit 实现基于 Redis 的固定窗口限流。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Decision 是一次限流判断的结果。
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset 是当前窗口剩余的时间。
	Reset time.Duration
}

// Store 对 key 计数，并返回计数值与窗口剩余时间。
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter 在 window 内最多放行 limit 个请求。
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// NewLimiter 创建一个 Limiter。limit <= 0 时不限流。
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow 为 key 计一次请求。
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	count, ttl, err := l.store.Incr(ctx, "ratelimit:"+key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     ttl,
	}, nil
}

// Error 是请求被限流时返回的错误。
type Error struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("Rate limit of %d requests exceeded. Please try again in %s.", e.Limit, RetryHint(e.RetryAfter))
}

// RetryHint 把等待时间格式化为以分钟或小时计的提示，向上取整。
func RetryHint(d time.Duration) string {
	if d >= time.Hour {
		h := int((d + time.Hour - 1) / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int((d + time.Minute - 1) / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore 返回以 Redis INCR + EXPIRE 实现的 Store。
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	remaining := ttl.Val()
	// 新窗口或丢失过期时间的 key
	if incr.Val() == 1 || remaining < 0 {
		if err := s.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		remaining = window
	}
	return incr.Val(), remaining, nil
}
