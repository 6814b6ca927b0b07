package council

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 执行队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 承载执行批次键。批次内容保存在发布
// 进程的内存里，发布与消费必须在同一进程内完成；Redis 在这里
// 提供的是阻塞式消费与削峰，不是多实例分摊。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 执行队列。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "council:executions"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// Publish 将批次键投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, batchKey string) error {
	if err := q.client.LPush(ctx, q.queue, batchKey).Err(); err != nil {
		return fmt.Errorf("Redis 投递执行批次失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 获取批次。处理失败不回投：提案的执行领取
// 是一次性的，重复执行可能重复广播交易。返回前会等全部工作协程
// 退出，调用方由此可以确定不会再有 handler 在跑。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, workerCount)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					errCh <- workerCtx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(workerCtx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if err == redis.Nil {
						continue
					}
					errCh <- fmt.Errorf("Redis 取执行批次失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				_ = handler(workerCtx, values[1])
			}
		}()
	}

	var first error
	select {
	case <-ctx.Done():
		first = ctx.Err()
	case err := <-errCh:
		first = err
	}
	cancel()
	wg.Wait()
	return first
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
