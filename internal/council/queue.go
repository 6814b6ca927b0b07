package council

import (
	"context"
)

// Handler 处理一个执行批次键（链类型:网络）。
type Handler func(ctx context.Context, batchKey string) error

// Producer 负责向执行队列投递批次。
type Producer interface {
	Publish(ctx context.Context, batchKey string) error
	Close() error
}

// Consumer 负责从执行队列消费批次。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// ExecutionQueue 同时具备生产者与消费者能力。
// 队列承载的是批次键而不是提案本身：同一网络的提案必须按序
// 在同一会话上执行，跨网络才允许并发。批次内容保存在发布方
// 进程的内存中，发布与消费必须发生在同一进程内。
type ExecutionQueue interface {
	Producer
	Consumer
}
