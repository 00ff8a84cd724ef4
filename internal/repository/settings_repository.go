package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// SettingsRepository 是 CMS 设置项的键值存储。
type SettingsRepository interface {
	// GetList 读取一个字符串列表设置；键不存在时返回 (nil, false, nil)。
	GetList(ctx context.Context, key string) ([]string, bool, error)
	SetList(ctx context.Context, key string, values []string) error
}

type redisSettingsRepository struct {
	redisClient *redis.Client
}

// NewSettingsRepository 创建一个基于 Redis 的 SettingsRepository。
func NewSettingsRepository(redisClient *redis.Client) SettingsRepository {
	return &redisSettingsRepository{redisClient: redisClient}
}

func settingsKey(key string) string {
	return "settings:" + key
}

func (r *redisSettingsRepository) GetList(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := r.redisClient.Get(ctx, settingsKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal setting %s: %w", key, err)
	}
	return values, true, nil
}

func (r *redisSettingsRepository) SetList(ctx context.Context, key string, values []string) error {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	if err := r.redisClient.Set(ctx, settingsKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
