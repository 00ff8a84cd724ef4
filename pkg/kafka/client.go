// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"cms-assistant-go/internal/config"
	"cms-assistant-go/pkg/events"
	"cms-assistant-go/pkg/log"
)

const maxAttempts = 3

var (
	retryBackoff    = 500 * time.Millisecond
	fetchBackoff    = time.Second
	maxFetchBackoff = 30 * time.Second
)

// UsageProcessor 处理一条用量事件。Kafka 消费者与具体的入库实现解耦。
type UsageProcessor interface {
	Process(ctx context.Context, evt events.UsageEvent) error
}

// Producer 把用量事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers(cfg)...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// Publish 发送一条用量事件，以会话 ID 作为 key 保证同一会话的事件有序。
func (p *Producer) Publish(ctx context.Context, evt events.UsageEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprint(evt.ConversationID)),
		Value: value,
	})
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理用量事件，ctx 取消后退出。
// 处理失败时在当前循环内退避重试，累计 maxAttempts 次后提交 offset 放弃该事件。
// 失败次数记录在 Redis 中，进程重启后继续计数。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor UsageProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	fetchDelay := fetchBackoff
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Errorf("从 Kafka 读取消息失败, %s 后重试: %v", fetchDelay, err)
			if !wait(ctx, fetchDelay) {
				break
			}
			fetchDelay *= 2
			if fetchDelay > maxFetchBackoff {
				fetchDelay = maxFetchBackoff
			}
			continue
		}
		fetchDelay = fetchBackoff

		var evt events.UsageEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(r, m)
			continue
		}

		if err := processWithRetry(ctx, rdb, processor, evt); err != nil {
			if ctx.Err() != nil {
				// 停机中，不提交，交给下一个消费者重新投递
				break
			}
			log.Errorf("用量事件多次失败(>=%d)，提交 offset 终止重试: event=%s, error: %v", maxAttempts, evt.EventID, err)
		}
		commit(r, m)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// processWithRetry 处理一条事件，失败后按指数退避重试。
// 返回 nil 表示处理成功；返回错误表示次数耗尽或 ctx 已取消。
func processWithRetry(ctx context.Context, rdb *redis.Client, processor UsageProcessor, evt events.UsageEvent) error {
	key := attemptsKey(evt.EventID)
	attempts := priorAttempts(rdb, key)
	for {
		err := processor.Process(ctx, evt)
		if err == nil {
			_ = rdb.Del(context.Background(), key).Err()
			return nil
		}
		attempts = recordFailure(rdb, key, attempts)
		log.Warnf("处理用量事件失败(第 %d 次): event=%s, error: %v", attempts, evt.EventID, err)
		if attempts >= maxAttempts {
			_ = rdb.Del(context.Background(), key).Err()
			return err
		}
		if !wait(ctx, retryBackoff<<(attempts-1)) {
			return ctx.Err()
		}
	}
}

// priorAttempts 读取之前进程留下的失败次数，Redis 不可用时从 0 开始。
func priorAttempts(rdb *redis.Client, key string) int64 {
	n, err := rdb.Get(context.Background(), key).Int64()
	if err != nil {
		return 0
	}
	return n
}

// recordFailure 递增失败计数。Redis 异常时退回本地计数。
func recordFailure(rdb *redis.Client, key string, attempts int64) int64 {
	n, err := rdb.Incr(context.Background(), key).Result()
	if err != nil {
		return attempts + 1
	}
	_ = rdb.Expire(context.Background(), key, 24*time.Hour).Err()
	return n
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func commit(r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(context.Background(), m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func attemptsKey(eventID string) string {
	return fmt.Sprintf("kafka:attempts:%s", eventID)
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
