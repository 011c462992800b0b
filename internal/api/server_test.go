package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"GigFlow/internal/saga"
)

func apiStepSet(t *testing.T) *saga.StepSet {
	t.Helper()
	results := map[saga.Phase]*saga.Result{
		saga.PhaseDiscovery:       {Record: saga.Record{Listing: &saga.JobListing{JobID: "job-api", Budget: 100}}},
		saga.PhaseQualification:   {Record: saga.Record{Qualification: &saga.QualificationReport{Qualified: true, Score: 0.9}}, Branch: saga.PhaseResult{Qualified: true}},
		saga.PhaseBidding:         {Record: saga.Record{Bid: &saga.BidResult{BidID: "bid-api", Amount: 95}}},
		saga.PhaseContractSigning: {Record: saga.Record{Contract: &saga.ContractInfo{ContractID: "ctr-api"}}},
		saga.PhasePaymentEscrow:   {Record: saga.Record{Escrow: &saga.EscrowReceipt{EscrowID: "esc-api", Amount: 95}}},
		saga.PhaseExecution:       {Record: saga.Record{Execution: &saga.ExecutionOutput{Artifact: "work"}}},
		saga.PhaseQualityCheck:    {Record: saga.Record{Quality: &saga.QualityReport{Passed: true, Score: 0.95}}, Branch: saga.PhaseResult{QualityPassed: true}},
		saga.PhaseRevision:        {Record: saga.Record{Revision: &saga.RevisionNote{Round: 1}}},
		saga.PhaseDelivery:        {Record: saga.Record{Delivery: &saga.DeliveryReceipt{DeliveryID: "del-api"}}},
		saga.PhasePaymentRelease:  {Record: saga.Record{Payment: &saga.PaymentReceipt{PaymentID: "pay-api", Amount: 95}}},
		saga.PhaseFeedback:        {Record: saga.Record{Feedback: &saga.FeedbackEntry{Rating: 5}}},
	}
	var steps []saga.Step
	for phase, result := range results {
		result := result
		steps = append(steps, saga.Step{
			Phase: phase,
			Handler: saga.HandlerFunc(func(context.Context, saga.Input) (*saga.Result, error) {
				return result, nil
			}),
		})
	}
	set, err := saga.NewStepSet(steps...)
	if err != nil {
		t.Fatalf("step set: %v", err)
	}
	return set
}

// newTestServer 用与 Start 相同的路由表搭一个进程内服务。
func newTestServer(t *testing.T) (*httptest.Server, *saga.Orchestrator, *saga.Gateway) {
	t.Helper()
	gw := saga.NewGateway(saga.NewMemoryStore(), saga.NewMemoryCache())
	orch, err := saga.NewOrchestrator(apiStepSet(t), gw, saga.WithBackoffBase(time.Millisecond))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	s := NewServer("", orch, saga.NewRecoveryManager(orch, saga.NewMemoryStore()))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/recover", s.handleRecoverTask)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, orch, gw
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateTaskAndQueryStatus(t *testing.T) {
	server, orch, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/v1/tasks", saga.JobRequest{JobID: "job-api"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, resp, &created)
	if created.TaskID == "" {
		t.Fatal("task_id missing from response")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := orch.WaitUntilTerminal(ctx, created.TaskID, 5*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/tasks/" + created.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status saga.Status
	decodeBody(t, resp, &status)
	if status.Phase != saga.PhaseCompleted || status.TaskID != created.TaskID {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestCreateTaskRejectsBadRequests(t *testing.T) {
	server, _, _ := newTestServer(t)

	// job_id 缺失。
	resp := postJSON(t, server.URL+"/api/v1/tasks", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing job_id, got %d", resp.StatusCode)
	}

	// 非法 JSON。
	raw, err := http.Post(server.URL+"/api/v1/tasks", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", raw.StatusCode)
	}
}

func TestListTasksEndpoint(t *testing.T) {
	server, _, gw := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"task-list-1", "task-list-2"} {
		if err := gw.Checkpoint(ctx, saga.NewTaskState(id, saga.JobRequest{JobID: "job-api"})); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	resp, err := http.Get(server.URL + "/api/v1/tasks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Tasks []saga.Status `json:"tasks"`
	}
	decodeBody(t, resp, &body)
	if len(body.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(body.Tasks))
	}

	resp, err = http.Get(server.URL + "/api/v1/tasks?limit=1")
	if err != nil {
		t.Fatalf("get with limit: %v", err)
	}
	decodeBody(t, resp, &body)
	if len(body.Tasks) != 1 {
		t.Fatalf("limit not honored: %d", len(body.Tasks))
	}

	resp, err = http.Get(server.URL + "/api/v1/tasks?limit=banana")
	if err != nil {
		t.Fatalf("get with bad limit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/api/v1/tasks/absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != string(saga.CodeTaskNotFound) {
		t.Fatalf("unexpected error code: %s", body.Code)
	}
}

func TestCancelTaskEndpoint(t *testing.T) {
	server, _, gw := newTestServer(t)
	ctx := context.Background()

	state := saga.NewTaskState("task-api-cancel", saga.JobRequest{JobID: "job-api"})
	if err := gw.Checkpoint(ctx, state); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := postJSON(t, server.URL+"/api/v1/tasks/task-api-cancel/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Cancelled bool `json:"cancelled"`
	}
	decodeBody(t, resp, &body)
	if !body.Cancelled {
		t.Fatal("dormant task must cancel")
	}

	// 终态任务重复取消返回 false。
	resp = postJSON(t, server.URL+"/api/v1/tasks/task-api-cancel/cancel", nil)
	decodeBody(t, resp, &body)
	if body.Cancelled {
		t.Fatal("terminal task must not cancel again")
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	s := &Server{apiKey: "topsecret"}
	handler := s.authenticate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no key", "/api/v1/tasks", "", http.StatusUnauthorized},
		{"wrong key", "/api/v1/tasks", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "/api/v1/tasks", "Basic topsecret", http.StatusUnauthorized},
		{"valid key", "/api/v1/tasks", "Bearer topsecret", http.StatusNoContent},
		{"metrics exempt", "/metrics", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}

	// 未配置密钥时中间件透传。
	open := (&Server{}).authenticate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("open server must pass through, got %d", rec.Code)
	}
}

func TestRecoverTaskEndpoint(t *testing.T) {
	server, orch, gw := newTestServer(t)
	ctx := context.Background()

	state := saga.NewTaskState("task-api-rec", saga.JobRequest{JobID: "job-api"})
	state.CurrentPhase = saga.PhaseExecution
	state.CompletedPhases = []saga.Phase{
		saga.PhaseDiscovery, saga.PhaseQualification, saga.PhaseBidding,
		saga.PhaseContractSigning, saga.PhasePaymentEscrow,
	}
	if err := gw.Checkpoint(ctx, state); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := postJSON(t, server.URL+"/api/v1/tasks/task-api-rec/recover", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Recovered bool `json:"recovered"`
	}
	decodeBody(t, resp, &body)
	if !body.Recovered {
		t.Fatal("unfinished task must recover")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := orch.WaitUntilTerminal(waitCtx, "task-api-rec", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.CurrentPhase != saga.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.CurrentPhase)
	}

	resp = postJSON(t, server.URL+"/api/v1/tasks/task-api-rec/recover", nil)
	decodeBody(t, resp, &body)
	if body.Recovered {
		t.Fatal("terminal task must not recover")
	}
}
