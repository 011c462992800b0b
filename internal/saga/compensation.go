package saga

import (
	"context"
	"log/slog"
	"time"

	"GigFlow/pkg/logger"
)

// CompensationReport 汇总一次回滚的执行情况。
type CompensationReport struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// CompensationEngine 在任务不可恢复失败时按完成顺序的逆序回放补偿
// 动作。补偿是尽力而为的：单个补偿失败只记录、不中断回放，部分补偿
// 也严格好于没有补偿。
type CompensationEngine struct {
	steps *StepSet
}

// NewCompensationEngine 构造补偿引擎。
func NewCompensationEngine(steps *StepSet) *CompensationEngine {
	return &CompensationEngine{steps: steps}
}

// Compensate 逆序遍历 completed_phases，对每个注册了补偿动作的阶段
// 调用其补偿器，并把结果逐条追加到 compensation_log。未注册补偿器的
// 阶段静默跳过（其效果被定义为幂等或天然可撤销）。补偿结束后任务由
// 调用方移入 FAILED，补偿永远不会把任务复活回活跃阶段。
func (c *CompensationEngine) Compensate(ctx context.Context, state *TaskState) CompensationReport {
	report := CompensationReport{}
	if c == nil || c.steps == nil || state == nil {
		return report
	}
	for i := len(state.CompletedPhases) - 1; i >= 0; i-- {
		phase := state.CompletedPhases[i]
		step, ok := c.steps.Lookup(phase)
		if !ok || step.Compensator == nil {
			report.Skipped++
			continue
		}
		report.Attempted++

		rec, _ := state.RecordOf(phase)
		in := Input{
			TaskID: state.TaskID,
			Job:    state.Job,
			Phase:  phase,
		}
		detail, err := step.Compensator.Compensate(ctx, in, rec)
		entry := CompensationRecord{
			Phase:         phase,
			CompensatedAt: time.Now().UTC(),
			Success:       err == nil,
			Details:       detail,
		}
		if err != nil {
			entry.Details = err.Error()
			report.Failed++
			logger.L().Error("补偿动作失败",
				slog.String("task_id", state.TaskID),
				slog.String("phase", string(phase)),
				slog.Any("error", err),
			)
		} else {
			report.Succeeded++
			logger.Audit().Info("补偿动作完成",
				slog.String("task_id", state.TaskID),
				slog.String("phase", string(phase)),
				slog.String("detail", detail),
			)
		}
		state.CompensationLog = append(state.CompensationLog, entry)
	}
	return report
}
