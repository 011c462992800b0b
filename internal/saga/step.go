package saga

import (
	"context"
	"time"

	xerrors "GigFlow/internal/errors"
)

const (
	// DefaultMaxAttempts 是单个阶段的默认重试上限。
	DefaultMaxAttempts = 3
	// DefaultStepTimeout 是单次阶段执行的默认超时时间。
	DefaultStepTimeout = 60 * time.Second
)

// Input 是阶段处理器可见的最小上下文：任务标识、提交时的职位要素，
// 以及该步骤通过 Needs 显式声明依赖的前序阶段载荷。
type Input struct {
	TaskID  string
	Job     JobRequest
	Phase   Phase
	Attempt int
	Records map[Phase]Record
}

// Record 返回声明依赖的某阶段载荷，未声明或未产出时 ok 为 false。
func (in Input) Record(phase Phase) (Record, bool) {
	rec, ok := in.Records[phase]
	return rec, ok
}

// Result 是阶段处理器成功时的产出：本阶段落盘的载荷，
// 以及供状态机分支判定使用的结构化结果。
type Result struct {
	Record Record
	Branch PhaseResult
}

// Handler 定义阶段的前向动作，所有外部协作方调用都只发生在这里。
type Handler interface {
	Execute(ctx context.Context, in Input) (*Result, error)
}

// HandlerFunc 允许用普通函数实现 Handler。
type HandlerFunc func(ctx context.Context, in Input) (*Result, error)

// Execute 实现 Handler 接口。
func (f HandlerFunc) Execute(ctx context.Context, in Input) (*Result, error) {
	return f(ctx, in)
}

// Compensator 定义阶段的补偿动作。入参是该阶段自己落盘的载荷；即使
// 前向动作未完整执行，补偿也必须可以安全调用（尽力而为语义）。
type Compensator interface {
	Compensate(ctx context.Context, in Input, rec Record) (string, error)
}

// CompensatorFunc 允许用普通函数实现 Compensator。
type CompensatorFunc func(ctx context.Context, in Input, rec Record) (string, error)

// Compensate 实现 Compensator 接口。
func (f CompensatorFunc) Compensate(ctx context.Context, in Input, rec Record) (string, error) {
	return f(ctx, in, rec)
}

// Step 是绑定到某个阶段的静态描述符：前向契约、补偿动作、超时与
// 重试策略。它是配置而非任务态，一张 Step 表服务所有任务。
type Step struct {
	Phase       Phase
	Handler     Handler
	Compensator Compensator
	Needs       []Phase
	Timeout     time.Duration
	MaxAttempts int
	// HighImpact 标记完成后取消仍需触发补偿的高影响阶段（例如资金托管）。
	HighImpact bool
}

// StepSet 保存全量阶段描述符，供执行器与补偿引擎查表。
type StepSet struct {
	steps map[Phase]Step
}

// NewStepSet 校验并构建 Step 表。每个阶段至多注册一次，终态阶段不允许
// 注册处理器。
func NewStepSet(steps ...Step) (*StepSet, error) {
	set := &StepSet{steps: make(map[Phase]Step, len(steps))}
	for _, step := range steps {
		if !IsValidPhase(step.Phase) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的阶段: "+string(step.Phase))
		}
		if IsTerminal(step.Phase) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "终态阶段不允许注册处理器: "+string(step.Phase))
		}
		if step.Handler == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "阶段未提供处理器: "+string(step.Phase))
		}
		if _, ok := set.steps[step.Phase]; ok {
			return nil, xerrors.New(xerrors.CodeConflict, "阶段重复注册: "+string(step.Phase))
		}
		if step.Timeout <= 0 {
			step.Timeout = DefaultStepTimeout
		}
		if step.MaxAttempts <= 0 {
			step.MaxAttempts = DefaultMaxAttempts
		}
		set.steps[step.Phase] = step
	}
	return set, nil
}

// Lookup 返回某阶段的描述符。
func (s *StepSet) Lookup(phase Phase) (Step, bool) {
	if s == nil {
		return Step{}, false
	}
	step, ok := s.steps[phase]
	return step, ok
}

// HasCompensator 判断某阶段是否注册了补偿动作。
func (s *StepSet) HasCompensator(phase Phase) bool {
	step, ok := s.Lookup(phase)
	return ok && step.Compensator != nil
}

// Failure 是阶段执行失败的结构化分类，取代用异常类型推断语义的做法：
//   - Retryable：瞬时故障，可在原阶段退避重试；
//   - RollbackRequired：需要回滚已完成阶段并进入 FAILED；
//   - 两者皆否：干净的业务性终止，不触发补偿，任务正常收束。
type Failure struct {
	Err              error
	Code             xerrors.Code
	Retryable        bool
	RollbackRequired bool
}

// Error 实现 error 接口。
func (f *Failure) Error() string {
	if f == nil || f.Err == nil {
		return "phase failure"
	}
	return f.Err.Error()
}

// Unwrap 实现 errors.Unwrap。
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Transient 构造一个可重试的瞬时失败。
func Transient(err error) *Failure {
	return &Failure{Err: err, Code: CodePhaseFailure, Retryable: true}
}

// Rollback 构造一个需要回滚的失败。
func Rollback(err error) *Failure {
	return &Failure{Err: err, Code: CodePhaseFailure, RollbackRequired: true}
}

// Abort 构造一个既不重试也不回滚的业务性终止。
func Abort(err error) *Failure {
	return &Failure{Err: err, Code: CodePhaseFailure}
}

// Outcome 是一次阶段执行的类型化结果：成功或结构化失败，二者有其一。
type Outcome struct {
	Success bool
	Result  *Result
	Failure *Failure
}
