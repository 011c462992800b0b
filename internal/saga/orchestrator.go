package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "GigFlow/internal/errors"
	"GigFlow/internal/observability/alerting"
	"GigFlow/internal/observability/metrics"
	"GigFlow/pkg/logger"
)

const (
	// DefaultBackoffBase 是指数退避的基础时间单位，第 n 次失败后等待
	// base * 2^(n-1) 再重试。
	DefaultBackoffBase = time.Second
	// DefaultMaxRevisionRounds 限制 REVISION 与 QUALITY_CHECK 之间的
	// 往返次数，避免返工死循环。
	DefaultMaxRevisionRounds = 3
)

// Status 是 GetStatus 返回的任务快照，始终反映最近一次持久化提交。
type Status struct {
	TaskID     string    `json:"task_id"`
	JobID      string    `json:"job_id"`
	Phase      Phase     `json:"phase"`
	Attempts   int       `json:"attempts"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// taskRuntime 是单个任务的运行时：一把互斥锁保证阶段循环不与自身并发，
// 一个取消标记在阶段之间被检查。
type taskRuntime struct {
	mu        sync.Mutex
	cancelled atomic.Bool
}

// Orchestrator 驱动任务生命周期的状态机循环：执行当前阶段、按结果推进
// 或退避重试、在不可恢复失败时回滚、每次尝试后落盘检查点。协作方通过
// 构造期注入的 Step 表显式传入，编排器不触碰任何全局定位器。
type Orchestrator struct {
	steps    *StepSet
	executor *Executor
	comp     *CompensationEngine
	gateway  *Gateway

	producer Producer
	consumer Consumer
	alerter  alerting.Dispatcher
	logger   *slog.Logger

	workerCount        int
	backoffBase        time.Duration
	maxRevisionRounds  int
	compensateOnCancel bool

	mu       sync.Mutex
	runtimes map[string]*taskRuntime
}

// Option 定义编排器的可选配置。
type Option func(*Orchestrator)

// WithIntake 配置接入队列，提交的任务经由队列分发给消费协程。
func WithIntake(queue Queue) Option {
	return func(o *Orchestrator) {
		o.producer = queue
		o.consumer = queue
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) Option {
	return func(o *Orchestrator) {
		if workers > 0 {
			o.workerCount = workers
		}
	}
}

// WithBackoffBase 设置指数退避的基础时间单位。
func WithBackoffBase(base time.Duration) Option {
	return func(o *Orchestrator) {
		if base > 0 {
			o.backoffBase = base
		}
	}
}

// WithMaxRevisionRounds 设置返工循环的轮数上限。
func WithMaxRevisionRounds(rounds int) Option {
	return func(o *Orchestrator) {
		if rounds > 0 {
			o.maxRevisionRounds = rounds
		}
	}
}

// WithCompensateOnCancel 控制取消时是否对已完成的高影响阶段触发补偿。
func WithCompensateOnCancel(enabled bool) Option {
	return func(o *Orchestrator) {
		o.compensateOnCancel = enabled
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.alerter = dispatcher
	}
}

// WithLogger 指定调试日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator 构造编排器。
func NewOrchestrator(steps *StepSet, gateway *Gateway, opts ...Option) (*Orchestrator, error) {
	if steps == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Step 表不能为空")
	}
	if gateway == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "持久化网关不能为空")
	}
	o := &Orchestrator{
		steps:              steps,
		executor:           NewExecutor(steps),
		comp:               NewCompensationEngine(steps),
		gateway:            gateway,
		workerCount:        4,
		backoffBase:        DefaultBackoffBase,
		maxRevisionRounds:  DefaultMaxRevisionRounds,
		compensateOnCancel: true,
		runtimes:           make(map[string]*taskRuntime),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// StartNewTask 创建一条新任务：写入初始状态，然后投递到接入队列；未
// 配置队列时直接拉起受监督的处理循环。返回生成的任务 ID。
func (o *Orchestrator) StartNewTask(ctx context.Context, job JobRequest) (string, error) {
	if job.JobID == "" {
		return "", xerrors.New(CodeTaskValidation, "job_id 不能为空")
	}
	taskID := uuid.NewString()
	state := NewTaskState(taskID, job)
	if err := o.gateway.Checkpoint(ctx, state); err != nil {
		return "", err
	}
	logger.Audit().Info("任务已创建",
		slog.String("task_id", taskID),
		slog.String("job_id", job.JobID),
		slog.String("phase", string(state.CurrentPhase)),
	)
	if o.producer != nil {
		if err := o.producer.Publish(ctx, taskID); err != nil {
			wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到接入队列失败")
			logger.L().Error("任务入队失败", slog.Any("error", wrapped), slog.String("task_id", taskID))
			return taskID, wrapped
		}
		return taskID, nil
	}
	go func() {
		if err := o.runTask(context.WithoutCancel(ctx), taskID); err != nil {
			logger.L().Error("任务处理循环异常退出",
				slog.Any("error", err),
				slog.String("task_id", taskID),
			)
		}
	}()
	return taskID, nil
}

// Start 启动接入队列的消费循环，阻塞直到上下文取消。
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置接入队列")
	}
	return o.consumer.Consume(ctx, o.workerCount, o.runTask)
}

// GetStatus 返回任务的最近一次持久化状态快照。
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (*Status, error) {
	state, err := o.gateway.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return statusOf(state), nil
}

// ListTasks 按更新时间倒序返回最近任务的状态快照，含终态任务。
func (o *Orchestrator) ListTasks(ctx context.Context, limit int) ([]*Status, error) {
	states, err := o.gateway.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	statuses := make([]*Status, 0, len(states))
	for _, state := range states {
		statuses = append(statuses, statusOf(state))
	}
	return statuses, nil
}

func statusOf(state *TaskState) *Status {
	status := &Status{
		TaskID:     state.TaskID,
		JobID:      state.JobID,
		Phase:      state.CurrentPhase,
		Attempts:   state.PhaseAttempts,
		ErrorCount: len(state.ErrorHistory),
		UpdatedAt:  state.UpdatedAt,
	}
	if last := state.LastError(); last != nil {
		status.LastError = last.Error
	}
	return status
}

// CancelTask 请求取消任务。取消是在阶段之间生效的停止请求，不打断
// 正在执行的阶段。活跃任务只打取消标记；休眠任务立即收束。
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) (bool, error) {
	rt := o.runtime(taskID)
	rt.cancelled.Store(true)

	if !rt.mu.TryLock() {
		// 处理循环正在运行，会在当前阶段结束后看到取消标记。
		return true, nil
	}
	defer rt.mu.Unlock()

	state, err := o.gateway.Load(ctx, taskID)
	if err != nil {
		return false, err
	}
	if state.Terminal() {
		return false, nil
	}
	state.CancelRequested = true
	if err := o.finishCancelled(ctx, state); err != nil {
		return false, err
	}
	return true, nil
}

// Resume 重新进入某任务的处理循环，恢复流程使用。已在运行或已是终态
// 时返回 false。
func (o *Orchestrator) Resume(ctx context.Context, taskID string) (bool, error) {
	state, err := o.gateway.Load(ctx, taskID)
	if err != nil {
		return false, err
	}
	if state.Terminal() {
		return false, nil
	}
	if o.active(taskID) {
		return false, nil
	}
	if o.producer != nil {
		if err := o.producer.Publish(ctx, taskID); err != nil {
			return false, xerrors.Wrap(CodeTaskPublish, err, "恢复任务重新入队失败")
		}
		return true, nil
	}
	go func() {
		if err := o.runTask(context.WithoutCancel(ctx), taskID); err != nil {
			logger.L().Error("恢复的任务处理循环异常退出",
				slog.Any("error", err),
				slog.String("task_id", taskID),
			)
		}
	}()
	return true, nil
}

// WaitUntilTerminal 在指定间隔内轮询任务状态直至终态，测试与 CLI 用。
func (o *Orchestrator) WaitUntilTerminal(ctx context.Context, taskID string, interval time.Duration) (*TaskState, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		state, err := o.gateway.Load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if state.Terminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runTask 是单个任务的受监督处理循环入口。队列重复投递是安全的：
// 拿不到任务锁说明循环已在运行，直接返回。
func (o *Orchestrator) runTask(ctx context.Context, taskID string) error {
	rt := o.runtime(taskID)
	if !rt.mu.TryLock() {
		o.logDebug("任务循环已在运行，跳过重复投递", slog.String("task_id", taskID))
		return nil
	}
	defer rt.mu.Unlock()

	state, err := o.gateway.Load(ctx, taskID)
	if err != nil {
		return err
	}
	if state.Terminal() {
		o.release(taskID)
		return nil
	}
	if state.CancelRequested {
		rt.cancelled.Store(true)
	}
	return o.loop(ctx, rt, state)
}

// loop 顺序推进任务的各个阶段，直到终态或上下文取消。任务状态只被
// 本循环修改，任一时刻最多一个循环持有该任务。
func (o *Orchestrator) loop(ctx context.Context, rt *taskRuntime, state *TaskState) error {
	for {
		if err := ctx.Err(); err != nil {
			// 停机：状态已随上一次检查点落盘，恢复流程会接续。
			return err
		}
		if rt.cancelled.Load() {
			state.CancelRequested = true
			return o.finishCancelled(ctx, state)
		}

		step, ok := o.steps.Lookup(state.CurrentPhase)
		if !ok {
			// 编排配置缺陷，向上炸出而不是污染任务状态。
			return xerrors.New(CodeStepMissing, "阶段未注册处理器: "+string(state.CurrentPhase))
		}

		state.PhaseAttempts++
		attemptStart := time.Now()
		outcome, err := o.executor.Execute(ctx, state)
		if err != nil {
			return err
		}

		if outcome.Success {
			done, err := o.applySuccess(ctx, state, outcome.Result, attemptStart)
			if err != nil || done {
				return err
			}
			continue
		}

		done, err := o.applyFailure(ctx, state, step, outcome.Failure, attemptStart)
		if err != nil || done {
			return err
		}
	}
}

// applySuccess 记录阶段产出并推进状态机。返回 done=true 表示任务已收束。
func (o *Orchestrator) applySuccess(ctx context.Context, state *TaskState, result *Result, started time.Time) (bool, error) {
	phase := state.CurrentPhase
	state.PhaseData[phase] = result.Record
	state.CompletedPhases = append(state.CompletedPhases, phase)
	metrics.ObservePhase(string(phase), "success", time.Since(started))

	next, ok := NextPhase(phase, result.Branch)
	if !ok {
		return true, o.finishCompleted(ctx, state, phase)
	}
	if next == PhaseRevision {
		state.RevisionRounds++
		if state.RevisionRounds > o.maxRevisionRounds {
			state.ErrorHistory = append(state.ErrorHistory, ErrorRecord{
				Phase:     phase,
				Error:     fmt.Sprintf("质检未通过且返工轮数超过上限 %d", o.maxRevisionRounds),
				ErrorCode: string(xerrors.CodeRetriesExhausted),
				Timestamp: time.Now().UTC(),
				Attempt:   state.PhaseAttempts,
			})
			return true, o.rollback(ctx, state, phase)
		}
	}
	state.CurrentPhase = next
	state.PhaseAttempts = 0
	state.PhaseStartTime = time.Now().UTC()
	if err := o.gateway.Checkpoint(ctx, state); err != nil {
		return true, err
	}
	o.logDebug("阶段完成",
		slog.String("task_id", state.TaskID),
		slog.String("phase", string(phase)),
		slog.String("next", string(next)),
	)
	return false, nil
}

// applyFailure 按三类失败语义处置：可重试的瞬时故障原地退避重试；需要
// 回滚或重试耗尽的进入补偿；既不重试也不回滚的按业务性终止干净收束。
func (o *Orchestrator) applyFailure(ctx context.Context, state *TaskState, step Step, failure *Failure, started time.Time) (bool, error) {
	phase := state.CurrentPhase
	state.ErrorHistory = append(state.ErrorHistory, ErrorRecord{
		Phase:     phase,
		Error:     failure.Error(),
		ErrorCode: string(failure.Code),
		Timestamp: time.Now().UTC(),
		Attempt:   state.PhaseAttempts,
	})

	exhausted := state.PhaseAttempts >= step.MaxAttempts
	switch {
	case failure.RollbackRequired || (failure.Retryable && exhausted):
		metrics.ObservePhase(string(phase), "rollback", time.Since(started))
		logger.Audit().Warn("阶段失败，触发回滚",
			slog.String("task_id", state.TaskID),
			slog.String("phase", string(phase)),
			slog.String("error", failure.Error()),
			slog.Int("attempts", state.PhaseAttempts),
		)
		return true, o.rollback(ctx, state, phase)

	case failure.Retryable:
		metrics.ObservePhase(string(phase), "retry", time.Since(started))
		if err := o.gateway.Checkpoint(ctx, state); err != nil {
			return true, err
		}
		wait := o.backoffDelay(state.PhaseAttempts)
		o.logDebug("阶段失败，退避后重试",
			slog.String("task_id", state.TaskID),
			slog.String("phase", string(phase)),
			slog.Duration("wait", wait),
			slog.Int("attempt", state.PhaseAttempts),
		)
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(wait):
		}
		return false, nil

	default:
		// 业务性终止：不是错误，不触发补偿。
		metrics.ObservePhase(string(phase), "abort", time.Since(started))
		logger.Audit().Info("任务按业务判定终止",
			slog.String("task_id", state.TaskID),
			slog.String("phase", string(phase)),
			slog.String("reason", failure.Error()),
		)
		return true, o.finishCompleted(ctx, state, phase)
	}
}

// rollback 逆序补偿已完成阶段并把任务移入 FAILED。
func (o *Orchestrator) rollback(ctx context.Context, state *TaskState, failedPhase Phase) error {
	report := o.comp.Compensate(ctx, state)
	state.CurrentPhase = PhaseFailed
	if err := o.gateway.Checkpoint(ctx, state); err != nil {
		return err
	}
	metrics.ObserveTerminal(string(PhaseFailed))
	metrics.AddCompensations(report.Succeeded, report.Failed)
	logger.Audit().Warn("任务回滚完成",
		slog.String("task_id", state.TaskID),
		slog.String("failed_phase", string(failedPhase)),
		slog.Int("compensated", report.Succeeded),
		slog.Int("compensation_failures", report.Failed),
	)
	o.emitAlert(ctx, state, CodePhaseFailure, "任务不可恢复失败，已执行回滚", map[string]string{
		"failed_phase":          string(failedPhase),
		"compensation_failures": fmt.Sprintf("%d", report.Failed),
	})
	o.finish(ctx, state.TaskID)
	return nil
}

// finishCompleted 把任务干净地收束到 COMPLETED。
func (o *Orchestrator) finishCompleted(ctx context.Context, state *TaskState, lastPhase Phase) error {
	state.CurrentPhase = PhaseCompleted
	if err := o.gateway.Checkpoint(ctx, state); err != nil {
		return err
	}
	metrics.ObserveTerminal(string(PhaseCompleted))
	logger.Audit().Info("任务完成",
		slog.String("task_id", state.TaskID),
		slog.String("last_phase", string(lastPhase)),
		slog.Int("completed_phases", len(state.CompletedPhases)),
	)
	o.finish(ctx, state.TaskID)
	return nil
}

// finishCancelled 把任务收束到 CANCELLED。取消不是失败，默认不触发
// 补偿；但若高影响阶段（如资金托管）已完成，按策略先行补偿，避免
// 资金悬置。
func (o *Orchestrator) finishCancelled(ctx context.Context, state *TaskState) error {
	if o.compensateOnCancel && o.highImpactCompleted(state) {
		report := o.comp.Compensate(ctx, state)
		metrics.AddCompensations(report.Succeeded, report.Failed)
		logger.Audit().Warn("取消前补偿高影响阶段",
			slog.String("task_id", state.TaskID),
			slog.Int("compensated", report.Succeeded),
			slog.Int("compensation_failures", report.Failed),
		)
	}
	state.CurrentPhase = PhaseCancelled
	if err := o.gateway.Checkpoint(ctx, state); err != nil {
		return err
	}
	metrics.ObserveTerminal(string(PhaseCancelled))
	logger.Audit().Info("任务已取消", slog.String("task_id", state.TaskID))
	o.finish(ctx, state.TaskID)
	return nil
}

// highImpactCompleted 判断已完成阶段中是否存在高影响阶段。
func (o *Orchestrator) highImpactCompleted(state *TaskState) bool {
	for _, phase := range state.CompletedPhases {
		if step, ok := o.steps.Lookup(phase); ok && step.HighImpact {
			return true
		}
	}
	return false
}

// backoffDelay 计算第 attempt 次失败后的等待时长：base * 2^(attempt-1)。
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return o.backoffBase << uint(attempt-1)
}

// finish 把任务移出活跃集合并清理缓存镜像，持久化记录保留供审计。
func (o *Orchestrator) finish(ctx context.Context, taskID string) {
	o.gateway.Evict(ctx, taskID)
	o.release(taskID)
}

func (o *Orchestrator) runtime(taskID string) *taskRuntime {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[taskID]
	if !ok {
		rt = &taskRuntime{}
		o.runtimes[taskID] = rt
	}
	return rt
}

func (o *Orchestrator) active(taskID string) bool {
	o.mu.Lock()
	rt, ok := o.runtimes[taskID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	if rt.mu.TryLock() {
		rt.mu.Unlock()
		return false
	}
	return true
}

func (o *Orchestrator) release(taskID string) {
	o.mu.Lock()
	delete(o.runtimes, taskID)
	o.mu.Unlock()
}

func (o *Orchestrator) logDebug(msg string, attrs ...slog.Attr) {
	if o.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	o.logger.Debug(msg, args...)
}

func (o *Orchestrator) emitAlert(ctx context.Context, state *TaskState, code xerrors.Code, message string, metadata map[string]string) {
	if o == nil || o.alerter == nil || state == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.AttributesOf(code).Severity,
		TaskID:     state.TaskID,
		Phase:      string(state.CurrentPhase),
		Attempts:   state.PhaseAttempts,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := o.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", state.TaskID),
		)
	}
}
