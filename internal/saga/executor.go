package saga

import (
	"context"
	stdErrors "errors"
	"fmt"

	xerrors "GigFlow/internal/errors"
)

// Executor 负责把当前阶段派发给注册的处理器，并把处理器的各种出错
// 形态（返回错误、panic、超时）统一收敛为类型化的 Outcome。
// 执行器自身不做任何外部 I/O。
type Executor struct {
	steps *StepSet
}

// NewExecutor 构造阶段执行器。
func NewExecutor(steps *StepSet) *Executor {
	return &Executor{steps: steps}
}

// Execute 执行任务当前阶段的一次尝试。返回的 error 仅代表编排配置缺陷
// （例如阶段未注册处理器），这类缺陷必须向上炸出而不是污染任务状态；
// 处理器层面的一切失败都会被转换成 Outcome.Failure。
func (e *Executor) Execute(ctx context.Context, state *TaskState) (Outcome, error) {
	if e == nil || e.steps == nil {
		return Outcome{}, xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}
	step, ok := e.steps.Lookup(state.CurrentPhase)
	if !ok {
		return Outcome{}, xerrors.New(CodeStepMissing, "阶段未注册处理器: "+string(state.CurrentPhase))
	}

	in := e.buildInput(step, state)

	runCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type handlerReturn struct {
		result *Result
		err    error
	}
	done := make(chan handlerReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReturn{err: &Failure{
					Err:              xerrors.New(CodePhasePanic, fmt.Sprintf("处理器 panic: %v", r)),
					Code:             CodePhasePanic,
					RollbackRequired: true,
				}}
			}
		}()
		result, err := step.Handler.Execute(runCtx, in)
		done <- handlerReturn{result: result, err: err}
	}()

	select {
	case <-runCtx.Done():
		if stdErrors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Outcome{Failure: &Failure{
				Err:              xerrors.New(CodePhaseTimeout, fmt.Sprintf("阶段 %s 超过 %s 未完成", state.CurrentPhase, step.Timeout)),
				Code:             CodePhaseTimeout,
				RollbackRequired: true,
			}}, nil
		}
		// 上层取消：交由处理循环的取消路径处置。
		return Outcome{Failure: &Failure{
			Err:       runCtx.Err(),
			Code:      xerrors.CodeCancelled,
			Retryable: true,
		}}, nil
	case ret := <-done:
		if ret.err != nil {
			// 处理器把超时原样返回时与 runCtx 到期走同一条路径。
			if stdErrors.Is(ret.err, context.DeadlineExceeded) {
				return Outcome{Failure: &Failure{
					Err:              xerrors.New(CodePhaseTimeout, fmt.Sprintf("阶段 %s 超过 %s 未完成", state.CurrentPhase, step.Timeout)),
					Code:             CodePhaseTimeout,
					RollbackRequired: true,
				}}, nil
			}
			return Outcome{Failure: classify(ret.err)}, nil
		}
		if ret.result == nil {
			return Outcome{Failure: &Failure{
				Err:  xerrors.New(CodePhaseFailure, "处理器返回了空结果"),
				Code: CodePhaseFailure,
			}}, nil
		}
		return Outcome{Success: true, Result: ret.result}, nil
	}
}

// buildInput 按步骤声明的依赖裁剪任务状态，处理器只能看到它需要的部分。
func (e *Executor) buildInput(step Step, state *TaskState) Input {
	records := make(map[Phase]Record, len(step.Needs))
	for _, phase := range step.Needs {
		if rec, ok := state.RecordOf(phase); ok {
			records[phase] = cloneRecord(rec)
		}
	}
	return Input{
		TaskID:  state.TaskID,
		Job:     state.Job,
		Phase:   state.CurrentPhase,
		Attempt: state.PhaseAttempts,
		Records: records,
	}
}

// classify 把处理器返回的 error 收敛为结构化失败。已经是 *Failure 的
// 原样使用；统一错误类型按其注册属性判定可重试性；其余一律按可重试
// 的瞬时故障处理。
func classify(err error) *Failure {
	var failure *Failure
	if stdErrors.As(err, &failure) {
		if failure.Code == "" {
			failure.Code = CodePhaseFailure
		}
		return failure
	}
	if e, ok := xerrors.From(err); ok {
		return &Failure{Err: err, Code: e.Code(), Retryable: e.Retryable()}
	}
	return &Failure{Err: err, Code: CodePhaseFailure, Retryable: true}
}
