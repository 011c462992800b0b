package saga

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadPolicyParsesDurations(t *testing.T) {
	path := writePolicyFile(t, `
phases:
  EXECUTION:
    timeout: 10m
    max_attempts: 5
  PAYMENT_ESCROW:
    timeout: 90s
`)
	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	exec := policy.Phases["EXECUTION"]
	if time.Duration(exec.Timeout) != 10*time.Minute || exec.MaxAttempts != 5 {
		t.Fatalf("unexpected EXECUTION policy: %+v", exec)
	}
	escrow := policy.Phases["PAYMENT_ESCROW"]
	if time.Duration(escrow.Timeout) != 90*time.Second {
		t.Fatalf("unexpected PAYMENT_ESCROW policy: %+v", escrow)
	}
	if escrow.MaxAttempts != 0 {
		t.Fatalf("unset max_attempts must stay zero: %+v", escrow)
	}
}

func TestLoadPolicyRejectsUnknownPhase(t *testing.T) {
	path := writePolicyFile(t, `
phases:
  SHIPPING:
    timeout: 1m
`)
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("unknown phase must be rejected")
	}
}

func TestLoadPolicyRejectsBadDuration(t *testing.T) {
	path := writePolicyFile(t, `
phases:
  EXECUTION:
    timeout: soon
`)
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("unparsable duration must be rejected")
	}
}

// 策略文件缺失不是错误：按空策略继续，代码默认值生效。
func TestLoadPolicyMissingFile(t *testing.T) {
	policy, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if len(policy.Phases) != 0 {
		t.Fatalf("expected empty policy, got %+v", policy)
	}

	policy, err = LoadPolicy("")
	if err != nil || len(policy.Phases) != 0 {
		t.Fatalf("empty path must yield empty policy: %+v %v", policy, err)
	}
}

func TestPolicyApplyOverridesSelectedSteps(t *testing.T) {
	handler := func(context.Context, Input) (*Result, error) { return &Result{}, nil }
	steps := []Step{
		{Phase: PhaseExecution, Handler: HandlerFunc(handler), Timeout: time.Minute, MaxAttempts: 3},
		{Phase: PhaseDelivery, Handler: HandlerFunc(handler), Timeout: time.Minute, MaxAttempts: 3},
	}
	policy := &Policy{Phases: map[string]PhasePolicy{
		"EXECUTION": {Timeout: Duration(10 * time.Minute), MaxAttempts: 5},
	}}

	out := policy.Apply(steps)

	if out[0].Timeout != 10*time.Minute || out[0].MaxAttempts != 5 {
		t.Fatalf("override not applied: %+v", out[0])
	}
	if out[1].Timeout != time.Minute || out[1].MaxAttempts != 3 {
		t.Fatalf("untouched step mutated: %+v", out[1])
	}
	// 原切片不受影响。
	if steps[0].Timeout != time.Minute || steps[0].MaxAttempts != 3 {
		t.Fatalf("input slice mutated: %+v", steps[0])
	}
}

func TestPolicyApplyZeroValuesKeepDefaults(t *testing.T) {
	handler := func(context.Context, Input) (*Result, error) { return &Result{}, nil }
	steps := []Step{
		{Phase: PhaseExecution, Handler: HandlerFunc(handler), Timeout: time.Minute, MaxAttempts: 3},
	}
	policy := &Policy{Phases: map[string]PhasePolicy{
		"EXECUTION": {MaxAttempts: 7},
	}}

	out := policy.Apply(steps)
	if out[0].Timeout != time.Minute {
		t.Fatalf("zero timeout must not override: %+v", out[0])
	}
	if out[0].MaxAttempts != 7 {
		t.Fatalf("max_attempts override missing: %+v", out[0])
	}

	var empty *Policy
	same := empty.Apply(steps)
	if len(same) != 1 || same[0].MaxAttempts != 3 {
		t.Fatalf("nil policy must be a no-op: %+v", same)
	}
}
