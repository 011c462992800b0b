package saga

import (
	"time"

	xerrors "GigFlow/internal/errors"
)

// JobRequest 是外部提交任务时携带的职位要素，随任务状态一并落盘，
// 恢复时据此重建各阶段处理器的输入。
type JobRequest struct {
	JobID       string            `json:"job_id"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Budget      float64           `json:"budget,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	ClientID    string            `json:"client_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrorRecord 是 error_history 中的一条失败记录。
type ErrorRecord struct {
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt"`
}

// CompensationRecord 是 compensation_log 中的一条补偿结果。
type CompensationRecord struct {
	Phase         Phase     `json:"phase"`
	CompensatedAt time.Time `json:"compensated_at"`
	Success       bool      `json:"success"`
	Details       string    `json:"details,omitempty"`
}

// TaskState 是任务的持久化状态单元。除编排器自身的处理循环外，
// 任何外部调用方都不得直接修改它，只能提交新任务或查询状态。
type TaskState struct {
	TaskID          string               `json:"task_id"`
	JobID           string               `json:"job_id"`
	Job             JobRequest           `json:"job"`
	CurrentPhase    Phase                `json:"current_phase"`
	PhaseStartTime  time.Time            `json:"phase_start_time"`
	PhaseAttempts   int                  `json:"phase_attempts"`
	RevisionRounds  int                  `json:"revision_rounds,omitempty"`
	CancelRequested bool                 `json:"cancel_requested,omitempty"`
	PhaseData       map[Phase]Record     `json:"phase_data"`
	CompletedPhases []Phase              `json:"completed_phases"`
	ErrorHistory    []ErrorRecord        `json:"error_history"`
	CompensationLog []CompensationRecord `json:"compensation_log"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "saga task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "saga task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskTerminal 表示任务已经处于终态。
	ErrTaskTerminal = xerrors.New(CodeTaskTerminal, "saga task already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeTaskNotFound   xerrors.Code = "SAGA_TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "SAGA_TASK_CONFLICT"
	CodeTaskTerminal   xerrors.Code = "SAGA_TASK_TERMINAL"
	CodeTaskValidation xerrors.Code = "SAGA_TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "SAGA_TASK_PUBLISH_FAILED"
	CodePhaseFailure   xerrors.Code = "SAGA_PHASE_FAILED"
	CodePhaseTimeout   xerrors.Code = "SAGA_PHASE_TIMEOUT"
	CodePhasePanic     xerrors.Code = "SAGA_PHASE_PANIC"
	CodeCompensation   xerrors.Code = "SAGA_COMPENSATION_FAILED"
	CodeStepMissing    xerrors.Code = "SAGA_STEP_NOT_REGISTERED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "saga task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "saga task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskTerminal, xerrors.Attributes{
		Message:   "saga task already terminal",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "saga task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish saga task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodePhaseFailure, xerrors.Attributes{
		Message:   "phase execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodePhaseTimeout, xerrors.Attributes{
		Message:   "phase execution timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodePhasePanic, xerrors.Attributes{
		Message:   "phase handler panicked",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeCompensation, xerrors.Attributes{
		Message:   "compensation action failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeStepMissing, xerrors.Attributes{
		Message:   "no step registered for phase",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// NewTaskState 以初始阶段构造一条新的任务状态。
func NewTaskState(taskID string, job JobRequest) *TaskState {
	now := time.Now().UTC()
	return &TaskState{
		TaskID:          taskID,
		JobID:           job.JobID,
		Job:             job,
		CurrentPhase:    InitialPhase,
		PhaseStartTime:  now,
		PhaseAttempts:   0,
		PhaseData:       make(map[Phase]Record),
		CompletedPhases: make([]Phase, 0, 8),
		ErrorHistory:    make([]ErrorRecord, 0),
		CompensationLog: make([]CompensationRecord, 0),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Terminal 判断任务是否已经进入终态。
func (s *TaskState) Terminal() bool {
	return s != nil && IsTerminal(s.CurrentPhase)
}

// RecordOf 返回某阶段已落盘的载荷副本，不存在时返回零值。
func (s *TaskState) RecordOf(phase Phase) (Record, bool) {
	if s == nil || s.PhaseData == nil {
		return Record{}, false
	}
	rec, ok := s.PhaseData[phase]
	return rec, ok
}

// LastError 返回最近一条失败记录，没有历史时返回 nil。
func (s *TaskState) LastError() *ErrorRecord {
	if s == nil || len(s.ErrorHistory) == 0 {
		return nil
	}
	rec := s.ErrorHistory[len(s.ErrorHistory)-1]
	return &rec
}

// Clone 返回状态的深拷贝，存储层借此避免调用方共享内部引用。
func (s *TaskState) Clone() *TaskState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Job.Metadata = cloneStringMap(s.Job.Metadata)
	if s.PhaseData != nil {
		clone.PhaseData = make(map[Phase]Record, len(s.PhaseData))
		for phase, rec := range s.PhaseData {
			clone.PhaseData[phase] = cloneRecord(rec)
		}
	}
	clone.CompletedPhases = append([]Phase(nil), s.CompletedPhases...)
	clone.ErrorHistory = append([]ErrorRecord(nil), s.ErrorHistory...)
	clone.CompensationLog = append([]CompensationRecord(nil), s.CompensationLog...)
	return &clone
}

func cloneRecord(rec Record) Record {
	out := rec
	if rec.Listing != nil {
		v := *rec.Listing
		out.Listing = &v
	}
	if rec.Qualification != nil {
		v := *rec.Qualification
		out.Qualification = &v
	}
	if rec.Bid != nil {
		v := *rec.Bid
		out.Bid = &v
	}
	if rec.Contract != nil {
		v := *rec.Contract
		out.Contract = &v
	}
	if rec.Escrow != nil {
		v := *rec.Escrow
		out.Escrow = &v
	}
	if rec.Execution != nil {
		v := *rec.Execution
		out.Execution = &v
	}
	if rec.Quality != nil {
		v := *rec.Quality
		v.Issues = append([]string(nil), rec.Quality.Issues...)
		out.Quality = &v
	}
	if rec.Revision != nil {
		v := *rec.Revision
		out.Revision = &v
	}
	if rec.Delivery != nil {
		v := *rec.Delivery
		out.Delivery = &v
	}
	if rec.Payment != nil {
		v := *rec.Payment
		out.Payment = &v
	}
	if rec.Feedback != nil {
		v := *rec.Feedback
		out.Feedback = &v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
