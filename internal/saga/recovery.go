package saga

import (
	"context"
	"log/slog"

	"GigFlow/pkg/logger"
)

// RecoveryManager 负责进程重启后的任务接续：从主存储找出所有非终态
// 任务，让编排器从各自的持久化检查点重新进入处理循环。恢复从
// current_phase 重新开始，不重放已完成阶段，也不重置 phase_attempts。
type RecoveryManager struct {
	orch  *Orchestrator
	store StateStore
}

// NewRecoveryManager 构造恢复管理器。
func NewRecoveryManager(orch *Orchestrator, store StateStore) *RecoveryManager {
	return &RecoveryManager{orch: orch, store: store}
}

// Recover 恢复单个任务。任务已是终态或已在运行时返回 false；
// 两者都不是错误，重复恢复必须是无害的。
func (r *RecoveryManager) Recover(ctx context.Context, taskID string) (bool, error) {
	resumed, err := r.orch.Resume(ctx, taskID)
	if err != nil {
		return false, err
	}
	if resumed {
		logger.Audit().Info("任务已恢复", slog.String("task_id", taskID))
	}
	return resumed, nil
}

// RecoverAll 扫描主存储中的全部非终态任务并逐一恢复，返回实际恢复的
// 数量。单个任务恢复失败只记录，不中断整体扫描。
func (r *RecoveryManager) RecoverAll(ctx context.Context) (int, error) {
	states, err := r.store.ListUnfinished(ctx, 0)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, state := range states {
		resumed, err := r.Recover(ctx, state.TaskID)
		if err != nil {
			logger.L().Error("恢复任务失败",
				slog.Any("error", err),
				slog.String("task_id", state.TaskID),
			)
			continue
		}
		if resumed {
			recovered++
		}
	}
	logger.Audit().Info("恢复扫描完成",
		slog.Int("unfinished", len(states)),
		slog.Int("recovered", recovered),
	)
	return recovered, nil
}
