package saga

import "context"

// IntakeHandler 处理从队列取出的任务 ID，由编排器实现为启动该任务的
// 阶段循环。重复投递是安全的：循环入口会重新读取持久化状态并持有
// 任务级互斥锁。
type IntakeHandler func(ctx context.Context, taskID string) error

// Producer 负责向接入队列投递任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从接入队列消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler IntakeHandler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
