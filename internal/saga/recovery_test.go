package saga

import (
	"context"
	"testing"
	"time"
)

func recoverySetup(t *testing.T, script *scriptedSteps) (*RecoveryManager, *Orchestrator, *Gateway) {
	t.Helper()
	store := NewMemoryStore()
	gw := NewGateway(store, NewMemoryCache())
	orch, err := NewOrchestrator(script.build(t), gw, WithBackoffBase(time.Millisecond))
	if err != nil {
		t.Fatalf("build orchestrator: %v", err)
	}
	return NewRecoveryManager(orch, store), orch, gw
}

// 重启恢复从 current_phase 接续，不重放已完成阶段，不重置 phase_attempts。
func TestRecoverResumesFromCheckpoint(t *testing.T) {
	script := newScriptedSteps()
	replayed := false
	script.override(PhaseDiscovery, func(context.Context, Input) (*Result, error) {
		replayed = true
		return &Result{Record: Record{Listing: &JobListing{JobID: "job-rec"}}}, nil
	})
	var executionAttempt int
	script.override(PhaseExecution, func(_ context.Context, in Input) (*Result, error) {
		executionAttempt = in.Attempt
		return &Result{Record: Record{Execution: &ExecutionOutput{Artifact: "work"}}}, nil
	})
	mgr, orch, gw := recoverySetup(t, script)
	ctx := context.Background()

	// 模拟在 EXECUTION 第一次尝试后崩溃的检查点。
	state := NewTaskState("task-rec", JobRequest{JobID: "job-rec"})
	state.CurrentPhase = PhaseExecution
	state.PhaseAttempts = 1
	state.CompletedPhases = []Phase{
		PhaseDiscovery, PhaseQualification, PhaseBidding,
		PhaseContractSigning, PhasePaymentEscrow,
	}
	if err := gw.Checkpoint(ctx, state); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	resumed, err := mgr.Recover(ctx, "task-rec")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !resumed {
		t.Fatal("unfinished task must resume")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := orch.WaitUntilTerminal(waitCtx, "task-rec", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.CurrentPhase != PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.CurrentPhase)
	}
	if replayed {
		t.Fatal("completed phases must not be replayed")
	}
	if executionAttempt != 2 {
		t.Fatalf("phase_attempts must carry over, got attempt %d", executionAttempt)
	}
}

func TestRecoverTerminalTaskIsNoop(t *testing.T) {
	mgr, _, gw := recoverySetup(t, newScriptedSteps())
	ctx := context.Background()

	state := NewTaskState("task-rec-done", JobRequest{JobID: "job-rec"})
	state.CurrentPhase = PhaseCompleted
	if err := gw.Checkpoint(ctx, state); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resumed, err := mgr.Recover(ctx, "task-rec-done")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if resumed {
		t.Fatal("terminal task must not resume")
	}
}

func TestRecoverMissingTask(t *testing.T) {
	mgr, _, _ := recoverySetup(t, newScriptedSteps())
	if _, err := mgr.Recover(context.Background(), "absent"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

// 启动扫描只接续非终态任务，终态任务原样保留。
func TestRecoverAllSkipsTerminalTasks(t *testing.T) {
	mgr, orch, gw := recoverySetup(t, newScriptedSteps())
	ctx := context.Background()

	for _, id := range []string{"task-rec-a", "task-rec-b"} {
		if err := gw.Checkpoint(ctx, NewTaskState(id, JobRequest{JobID: "job-rec"})); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	done := NewTaskState("task-rec-c", JobRequest{JobID: "job-rec"})
	done.CurrentPhase = PhaseFailed
	if err := gw.Checkpoint(ctx, done); err != nil {
		t.Fatalf("seed terminal: %v", err)
	}

	recovered, err := mgr.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("recover all: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recovered, got %d", recovered)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, id := range []string{"task-rec-a", "task-rec-b"} {
		state, err := orch.WaitUntilTerminal(waitCtx, id, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("wait %s: %v", id, err)
		}
		if state.CurrentPhase != PhaseCompleted {
			t.Fatalf("task %s: expected COMPLETED, got %s", id, state.CurrentPhase)
		}
	}
	final, err := gw.Load(ctx, "task-rec-c")
	if err != nil {
		t.Fatalf("load terminal: %v", err)
	}
	if final.CurrentPhase != PhaseFailed {
		t.Fatalf("terminal task mutated: %s", final.CurrentPhase)
	}
}
