package saga

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
)

type recordingCompensator struct {
	mu    sync.Mutex
	calls []Phase
	fail  map[Phase]error
}

func (c *recordingCompensator) compensatorFor(phase Phase) CompensatorFunc {
	return func(_ context.Context, _ Input, _ Record) (string, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls = append(c.calls, phase)
		if err := c.fail[phase]; err != nil {
			return "", err
		}
		return "undone " + string(phase), nil
	}
}

func noopHandler() HandlerFunc {
	return func(context.Context, Input) (*Result, error) { return &Result{}, nil }
}

func TestCompensateReverseOrder(t *testing.T) {
	rec := &recordingCompensator{}
	set := stepSetWith(t,
		Step{Phase: PhaseBidding, Handler: noopHandler(), Compensator: rec.compensatorFor(PhaseBidding)},
		Step{Phase: PhaseContractSigning, Handler: noopHandler(), Compensator: rec.compensatorFor(PhaseContractSigning)},
		Step{Phase: PhasePaymentEscrow, Handler: noopHandler(), Compensator: rec.compensatorFor(PhasePaymentEscrow)},
	)

	state := NewTaskState("task-comp", JobRequest{JobID: "job-comp"})
	state.CompletedPhases = []Phase{PhaseBidding, PhaseContractSigning, PhasePaymentEscrow}

	report := NewCompensationEngine(set).Compensate(context.Background(), state)

	expected := []Phase{PhasePaymentEscrow, PhaseContractSigning, PhaseBidding}
	if len(rec.calls) != len(expected) {
		t.Fatalf("expected %d compensations, got %v", len(expected), rec.calls)
	}
	for i, phase := range expected {
		if rec.calls[i] != phase {
			t.Fatalf("expected %s at position %d, got %s", phase, i, rec.calls[i])
		}
	}
	if report.Succeeded != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(state.CompensationLog) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(state.CompensationLog))
	}
	if state.CompensationLog[0].Phase != PhasePaymentEscrow {
		t.Fatalf("log order wrong: %+v", state.CompensationLog)
	}
}

// 无补偿器的阶段静默跳过，不产生日志条目。
func TestCompensateSkipsPhasesWithoutCompensator(t *testing.T) {
	rec := &recordingCompensator{}
	set := stepSetWith(t,
		Step{Phase: PhaseDiscovery, Handler: noopHandler()},
		Step{Phase: PhaseBidding, Handler: noopHandler(), Compensator: rec.compensatorFor(PhaseBidding)},
	)

	state := NewTaskState("task-comp", JobRequest{JobID: "job-comp"})
	state.CompletedPhases = []Phase{PhaseDiscovery, PhaseBidding}

	report := NewCompensationEngine(set).Compensate(context.Background(), state)

	if report.Skipped != 1 || report.Succeeded != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(state.CompensationLog) != 1 || state.CompensationLog[0].Phase != PhaseBidding {
		t.Fatalf("unexpected log: %+v", state.CompensationLog)
	}
}

// 单个补偿失败只记录，不中断后续阶段的回放。
func TestCompensateBestEffortContinuesOnFailure(t *testing.T) {
	rec := &recordingCompensator{fail: map[Phase]error{
		PhaseContractSigning: stdErrors.New("platform unreachable"),
	}}
	set := stepSetWith(t,
		Step{Phase: PhaseBidding, Handler: noopHandler(), Compensator: rec.compensatorFor(PhaseBidding)},
		Step{Phase: PhaseContractSigning, Handler: noopHandler(), Compensator: rec.compensatorFor(PhaseContractSigning)},
		Step{Phase: PhasePaymentEscrow, Handler: noopHandler(), Compensator: rec.compensatorFor(PhasePaymentEscrow)},
	)

	state := NewTaskState("task-comp", JobRequest{JobID: "job-comp"})
	state.CompletedPhases = []Phase{PhaseBidding, PhaseContractSigning, PhasePaymentEscrow}

	report := NewCompensationEngine(set).Compensate(context.Background(), state)

	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(rec.calls) != 3 {
		t.Fatalf("compensation aborted early: %v", rec.calls)
	}
	var failedEntry *CompensationRecord
	for i := range state.CompensationLog {
		if !state.CompensationLog[i].Success {
			failedEntry = &state.CompensationLog[i]
		}
	}
	if failedEntry == nil || failedEntry.Phase != PhaseContractSigning {
		t.Fatalf("failed compensation not recorded: %+v", state.CompensationLog)
	}
	if failedEntry.Details == "" {
		t.Fatal("failure details missing from log entry")
	}
}
