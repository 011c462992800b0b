// Package api 暴露任务生命周期的 REST 接口：提交任务、查询状态、
// 请求取消与触发恢复。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	xerrors "GigFlow/internal/errors"
	"GigFlow/internal/observability/metrics"
	"GigFlow/internal/saga"
)

// Server 负责暴露 REST 接口，供外部提交与管理任务。
type Server struct {
	addr     string
	orch     *saga.Orchestrator
	recovery *saga.RecoveryManager
	apiKey   string
}

// Option 定义 API 服务的可选配置。
type Option func(*Server)

// WithAPIKey 启用静态密钥认证，业务接口要求 Bearer 形式携带该密钥。
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *saga.Orchestrator, recovery *saga.RecoveryManager, opts ...Option) *Server {
	s := &Server{addr: addr, orch: orch, recovery: recovery}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.instrument("create_task", s.handleCreateTask))
	mux.HandleFunc("GET /api/v1/tasks", s.instrument("list_tasks", s.handleListTasks))
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.instrument("get_task", s.handleGetTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.instrument("cancel_task", s.handleCancelTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/recover", s.instrument("recover_task", s.handleRecoverTask))
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.authenticate(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// statusRecorder 记录响应状态码，供指标中间件使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	var job saga.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	taskID, err := s.orch.StartNewTask(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit 必须是非负整数", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	statuses, err := s.orch.ListTasks(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": statuses})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	status, err := s.orch.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}
	cancelled, err := s.orch.CancelTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleRecoverTask(w http.ResponseWriter, r *http.Request) {
	if s.recovery == nil {
		http.Error(w, "恢复管理器未初始化", http.StatusServiceUnavailable)
		return
	}
	recovered, err := s.recovery.Recover(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recovered": recovered})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按统一错误码映射 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case saga.CodeTaskNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case saga.CodeTaskValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case saga.CodeTaskConflict, saga.CodeTaskTerminal, xerrors.CodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"code":  string(xerrors.CodeOf(err)),
		"error": err.Error(),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
