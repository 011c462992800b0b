package gigflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newStubServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return server, client
}

func TestCreateTaskSendsPayloadAndAPIKey(t *testing.T) {
	_, client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tasks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer key, got %q", got)
		}
		var job JobSubmission
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if job.JobID != "job-sdk" || job.Budget != 250 {
			t.Errorf("unexpected submission: %+v", job)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-sdk"})
	})
	client.SetAPIKey("secret")

	taskID, err := client.CreateTask(context.Background(), JobSubmission{JobID: "job-sdk", Budget: 250})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if taskID != "task-sdk" {
		t.Fatalf("unexpected task id: %s", taskID)
	}
}

func TestGetTaskDecodesStatus(t *testing.T) {
	_, client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks/task-sdk" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(TaskStatus{
			TaskID: "task-sdk",
			JobID:  "job-sdk",
			Phase:  "EXECUTION",
		})
	})

	status, err := client.GetTask(context.Background(), "task-sdk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status.Phase != "EXECUTION" || status.Terminal() {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestListTasksPassesLimit(t *testing.T) {
	_, client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit not forwarded, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string][]TaskStatus{
			"tasks": {{TaskID: "task-a", Phase: "COMPLETED"}},
		})
	})

	tasks, err := client.ListTasks(context.Background(), 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Terminal() {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestErrorResponsesSurfaceAsAPIError(t *testing.T) {
	_, client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":  "TASK_NOT_FOUND",
			"error": "task does not exist",
		})
	})

	_, err := client.GetTask(context.Background(), "absent")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestWaitForTaskPollsUntilTerminal(t *testing.T) {
	calls := 0
	_, client := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		phase := "EXECUTION"
		if calls >= 3 {
			phase = "COMPLETED"
		}
		json.NewEncoder(w).Encode(TaskStatus{TaskID: "task-sdk", Phase: phase})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := client.WaitForTask(ctx, "task-sdk", time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.Phase != "COMPLETED" || calls < 3 {
		t.Fatalf("expected polling to completion, phase=%s calls=%d", status.Phase, calls)
	}
}
