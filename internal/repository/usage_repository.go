package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// UsageRepository 在 Redis 中累计每个项目的 token 用量。
type UsageRepository interface {
	ContentTokens(ctx context.Context, projectID string) (int64, error)
	AddContentTokens(ctx context.Context, projectID string, n int64) error
	CompletionTokens(ctx context.Context, projectID string) (int64, error)
	AddCompletionTokens(ctx context.Context, projectID string, n int64) error
}

type redisUsageRepository struct {
	redisClient *redis.Client
}

// NewUsageRepository 创建一个新的 UsageRepository 实例。
func NewUsageRepository(redisClient *redis.Client) UsageRepository {
	return &redisUsageRepository{redisClient: redisClient}
}

func usageKey(projectID, kind string) string {
	return fmt.Sprintf("usage:%s:%s", projectID, kind)
}

func (r *redisUsageRepository) get(ctx context.Context, key string) (int64, error) {
	n, err := r.redisClient.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage %s: %w", key, err)
	}
	return n, nil
}

func (r *redisUsageRepository) add(ctx context.Context, key string, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := r.redisClient.IncrBy(ctx, key, n).Err(); err != nil {
		return fmt.Errorf("failed to add usage %s: %w", key, err)
	}
	return nil
}

func (r *redisUsageRepository) ContentTokens(ctx context.Context, projectID string) (int64, error) {
	return r.get(ctx, usageKey(projectID, "content_tokens"))
}

func (r *redisUsageRepository) AddContentTokens(ctx context.Context, projectID string, n int64) error {
	return r.add(ctx, usageKey(projectID, "content_tokens"), n)
}

func (r *redisUsageRepository) CompletionTokens(ctx context.Context, projectID string) (int64, error) {
	return r.get(ctx, usageKey(projectID, "completion_tokens"))
}

func (r *redisUsageRepository) AddCompletionTokens(ctx context.Context, projectID string, n int64) error {
	return r.add(ctx, usageKey(projectID, "completion_tokens"), n)
}
