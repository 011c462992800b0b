package saga

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "GigFlow/internal/errors"
)

func stepSetWith(t *testing.T, steps ...Step) *StepSet {
	t.Helper()
	set, err := NewStepSet(steps...)
	if err != nil {
		t.Fatalf("build step set: %v", err)
	}
	return set
}

func discoveryState() *TaskState {
	return NewTaskState("task-exec", JobRequest{JobID: "job-exec", Budget: 100})
}

func TestExecuteSuccess(t *testing.T) {
	set := stepSetWith(t, Step{
		Phase: PhaseDiscovery,
		Handler: HandlerFunc(func(_ context.Context, in Input) (*Result, error) {
			if in.TaskID != "task-exec" || in.Phase != PhaseDiscovery {
				t.Errorf("unexpected input: %+v", in)
			}
			return &Result{Record: Record{Listing: &JobListing{JobID: in.Job.JobID}}}, nil
		}),
	})

	outcome, err := NewExecutor(set).Execute(context.Background(), discoveryState())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !outcome.Success || outcome.Result == nil || outcome.Result.Record.Listing == nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestExecuteMissingStepIsConfigDefect(t *testing.T) {
	set := stepSetWith(t, Step{
		Phase:   PhaseBidding,
		Handler: HandlerFunc(func(context.Context, Input) (*Result, error) { return &Result{}, nil }),
	})

	_, err := NewExecutor(set).Execute(context.Background(), discoveryState())
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if xerrors.CodeOf(err) != CodeStepMissing {
		t.Fatalf("expected %s, got %s", CodeStepMissing, xerrors.CodeOf(err))
	}
}

// 超时意味着外部副作用状态不明，必须按需要回滚处理，不能原地重试。
func TestExecuteTimeoutRequiresRollback(t *testing.T) {
	set := stepSetWith(t, Step{
		Phase:   PhaseDiscovery,
		Timeout: 20 * time.Millisecond,
		Handler: HandlerFunc(func(ctx context.Context, _ Input) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	outcome, err := NewExecutor(set).Execute(context.Background(), discoveryState())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Success || outcome.Failure == nil {
		t.Fatalf("expected failure outcome: %+v", outcome)
	}
	if !outcome.Failure.RollbackRequired {
		t.Fatal("timeout must require rollback")
	}
	if outcome.Failure.Code != CodePhaseTimeout {
		t.Fatalf("expected %s, got %s", CodePhaseTimeout, outcome.Failure.Code)
	}
}

func TestExecutePanicRequiresRollback(t *testing.T) {
	set := stepSetWith(t, Step{
		Phase: PhaseDiscovery,
		Handler: HandlerFunc(func(context.Context, Input) (*Result, error) {
			panic("handler exploded")
		}),
	})

	outcome, err := NewExecutor(set).Execute(context.Background(), discoveryState())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Success || outcome.Failure == nil {
		t.Fatalf("expected failure outcome: %+v", outcome)
	}
	if !outcome.Failure.RollbackRequired || outcome.Failure.Code != CodePhasePanic {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
}

func TestExecuteClassifiesPlainErrorAsTransient(t *testing.T) {
	set := stepSetWith(t, Step{
		Phase: PhaseDiscovery,
		Handler: HandlerFunc(func(context.Context, Input) (*Result, error) {
			return nil, stdErrors.New("connection reset")
		}),
	})

	outcome, err := NewExecutor(set).Execute(context.Background(), discoveryState())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Failure == nil || !outcome.Failure.Retryable || outcome.Failure.RollbackRequired {
		t.Fatalf("plain error must classify as transient: %+v", outcome.Failure)
	}
}

func TestExecutePreservesStructuredFailure(t *testing.T) {
	set := stepSetWith(t, Step{
		Phase: PhaseDiscovery,
		Handler: HandlerFunc(func(context.Context, Input) (*Result, error) {
			return nil, Abort(stdErrors.New("client budget withdrawn"))
		}),
	})

	outcome, err := NewExecutor(set).Execute(context.Background(), discoveryState())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	f := outcome.Failure
	if f == nil || f.Retryable || f.RollbackRequired {
		t.Fatalf("expected clean business abort: %+v", f)
	}
}

// 处理器只能看到 Needs 声明的前序载荷。
func TestExecuteClipsRecordsToNeeds(t *testing.T) {
	state := discoveryState()
	state.CurrentPhase = PhaseBidding
	state.PhaseData[PhaseDiscovery] = Record{Listing: &JobListing{JobID: "job-exec"}}
	state.PhaseData[PhaseQualification] = Record{Qualification: &QualificationReport{Qualified: true}}

	set := stepSetWith(t, Step{
		Phase: PhaseBidding,
		Needs: []Phase{PhaseDiscovery},
		Handler: HandlerFunc(func(_ context.Context, in Input) (*Result, error) {
			if _, ok := in.Record(PhaseDiscovery); !ok {
				t.Error("declared dependency missing")
			}
			if _, ok := in.Record(PhaseQualification); ok {
				t.Error("undeclared dependency leaked into input")
			}
			return &Result{}, nil
		}),
	})

	if _, err := NewExecutor(set).Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
