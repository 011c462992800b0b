package saga

import (
	"context"
	"log/slog"
	"time"

	"GigFlow/pkg/logger"
)

// Gateway 是持久化网关：每次阶段尝试后把完整 TaskState 写入主存储，
// 并镜像到快速缓存。读路径优先走缓存，未命中回源主存储并回填。
type Gateway struct {
	primary StateStore
	cache   StateCache
}

// NewGateway 构造持久化网关。cache 可以为 nil，此时只读写主存储。
func NewGateway(primary StateStore, cache StateCache) *Gateway {
	return &Gateway{primary: primary, cache: cache}
}

// Checkpoint 落盘一次完整状态。主存储写失败会原样返回；缓存写失败
// 只记录日志，不影响检查点成立。
func (g *Gateway) Checkpoint(ctx context.Context, state *TaskState) error {
	state.UpdatedAt = time.Now().UTC()
	if err := g.primary.Save(ctx, state); err != nil {
		return err
	}
	if g.cache != nil {
		if err := g.cache.Put(ctx, state); err != nil {
			logger.L().Warn("任务状态写入缓存失败",
				slog.String("task_id", state.TaskID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// Load 读取任务状态：缓存优先，未命中或出错时回源主存储并回填缓存。
func (g *Gateway) Load(ctx context.Context, taskID string) (*TaskState, error) {
	if g.cache != nil {
		if state, err := g.cache.Get(ctx, taskID); err == nil && state != nil {
			return state, nil
		}
	}
	state, err := g.primary.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		if err := g.cache.Put(ctx, state); err != nil {
			logger.L().Warn("任务状态回填缓存失败",
				slog.String("task_id", taskID),
				slog.Any("error", err),
			)
		}
	}
	return state, nil
}

// ListUnfinished 透传主存储的未完成任务扫描。
func (g *Gateway) ListUnfinished(ctx context.Context, limit int) ([]*TaskState, error) {
	return g.primary.ListUnfinished(ctx, limit)
}

// ListRecent 透传主存储的最近任务查询，列表读走主存储而非缓存。
func (g *Gateway) ListRecent(ctx context.Context, limit int) ([]*TaskState, error) {
	return g.primary.ListRecent(ctx, limit)
}

// Evict 移除缓存镜像，终态任务出活跃集时调用。主存储记录保留以供
// 审计与报表。
func (g *Gateway) Evict(ctx context.Context, taskID string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Delete(ctx, taskID); err != nil {
		logger.L().Warn("清理任务缓存失败",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}
}

// Close 依次关闭主存储与缓存。
func (g *Gateway) Close() error {
	var firstErr error
	if g.primary != nil {
		firstErr = g.primary.Close()
	}
	if g.cache != nil {
		if err := g.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
