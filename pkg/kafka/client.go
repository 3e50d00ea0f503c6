// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"pai-context-go/internal/config"
	"pai-context-go/pkg/log"
	"pai-context-go/pkg/tasks"
)

// maxAttempts 之后提交 offset，放弃该任务。
const maxAttempts = 3

const retryBackoff = 2 * time.Second

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// Producer 发送摄取任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个摄取任务到 Kafka。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Key()),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费摄取任务，失败次数记录在 Redis 中，进程内计数兜底。
type Consumer struct {
	cfg       config.KafkaConfig
	processor TaskProcessor
	rdb       *redis.Client

	mu       sync.Mutex
	attempts map[string]int64
}

// NewConsumer 创建消费者。rdb 可以为 nil，此时只使用进程内计数。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) *Consumer {
	return &Consumer{cfg: cfg, processor: processor, rdb: rdb, attempts: make(map[string]int64)}
}

// Run 阻塞消费直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) error {
	groupID := c.cfg.GroupID
	if groupID == "" {
		groupID = "pai-context-go-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(c.cfg.Brokers, ","),
		Topic:    c.cfg.Topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		// 同一分区内按顺序处理，失败的消息原地重试，直到成功或达到最大次数
		for attempt := 1; !c.handle(ctx, m); attempt++ {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理一条消息，返回是否应提交 offset。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		return true
	}

	log.Infof("开始处理摄取任务: object=%s, project=%s", task.ObjectName, task.ProjectID)
	key := task.Key()
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理摄取任务失败: object=%s, Error: %v", task.ObjectName, err)
		if attempts := c.recordFailure(ctx, key); attempts >= maxAttempts {
			log.Errorf("摄取任务多次失败(>=%d)，提交 offset 终止重试: object=%s", maxAttempts, task.ObjectName)
			c.clearAttempts(ctx, key)
			return true
		}
		return false
	}

	log.Infof("摄取任务处理成功: object=%s", task.ObjectName)
	c.clearAttempts(ctx, key)
	return true
}

// recordFailure 返回该任务累计失败次数，取 Redis 与进程内计数的较大值。
// Redis 不可用时只靠进程内计数，保证重试次数有上限。
func (c *Consumer) recordFailure(ctx context.Context, key string) int64 {
	c.mu.Lock()
	c.attempts[key]++
	attempts := c.attempts[key]
	c.mu.Unlock()

	if c.rdb == nil {
		return attempts
	}
	redisKey := attemptsKey(key)
	n, err := c.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Warnf("Redis 记录失败次数出错，使用进程内计数: key=%s, attempts=%d, Error: %v", key, attempts, err)
		return attempts
	}
	_ = c.rdb.Expire(ctx, redisKey, 24*time.Hour).Err()
	return max(n, attempts)
}

func (c *Consumer) clearAttempts(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.attempts, key)
	c.mu.Unlock()
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, attemptsKey(key)).Err()
	}
}

func attemptsKey(key string) string {
	return fmt.Sprintf("kafka:attempts:%s", key)
}
