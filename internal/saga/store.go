package saga

import "context"

// StateStore 抽象了任务状态的主存储接口。主存储是恢复语义的最终
// 事实来源，每次阶段尝试之后都会整条写入。
type StateStore interface {
	Save(ctx context.Context, state *TaskState) error
	Load(ctx context.Context, taskID string) (*TaskState, error)
	// ListUnfinished 返回尚未进入终态的任务，供启动时批量恢复。
	ListUnfinished(ctx context.Context, limit int) ([]*TaskState, error)
	// ListRecent 按更新时间倒序返回最近的任务，终态任务也包含在内。
	ListRecent(ctx context.Context, limit int) ([]*TaskState, error)
	Close() error
}

// StateCache 抽象按 task_id 镜像任务状态的快速缓存。缓存只是主存储
// 的加速层：写失败不致命，读未命中时回源主存储。
type StateCache interface {
	Put(ctx context.Context, state *TaskState) error
	Get(ctx context.Context, taskID string) (*TaskState, error)
	Delete(ctx context.Context, taskID string) error
	Close() error
}
