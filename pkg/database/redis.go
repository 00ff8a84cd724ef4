package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"cms-assistant-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。Redis 保存已启用模型等设置项，以及 Kafka 消费的重试计数。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infof("Redis client connected: %s (db %d)", addr, db)
}
