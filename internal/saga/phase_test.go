package saga

import "testing"

func TestNextPhaseHappyPathReachesFeedback(t *testing.T) {
	current := InitialPhase
	result := PhaseResult{Qualified: true, QualityPassed: true}

	var visited []Phase
	for {
		visited = append(visited, current)
		if len(visited) > len(allPhases) {
			t.Fatalf("phase walk did not terminate: %v", visited)
		}
		next, ok := NextPhase(current, result)
		if !ok {
			break
		}
		current = next
	}

	expected := []Phase{
		PhaseDiscovery,
		PhaseQualification,
		PhaseBidding,
		PhaseContractSigning,
		PhasePaymentEscrow,
		PhaseExecution,
		PhaseQualityCheck,
		PhaseDelivery,
		PhasePaymentRelease,
		PhaseFeedback,
	}
	if len(visited) != len(expected) {
		t.Fatalf("expected %d phases, got %d: %v", len(expected), len(visited), visited)
	}
	for i, phase := range expected {
		if visited[i] != phase {
			t.Fatalf("expected phase %s at index %d, got %s", phase, i, visited[i])
		}
	}
}

func TestNextPhaseQualificationRejection(t *testing.T) {
	next, ok := NextPhase(PhaseQualification, PhaseResult{Qualified: false})
	if ok {
		t.Fatalf("expected clean exit, got next phase %s", next)
	}
}

func TestNextPhaseQualityBranch(t *testing.T) {
	next, ok := NextPhase(PhaseQualityCheck, PhaseResult{QualityPassed: true})
	if !ok || next != PhaseDelivery {
		t.Fatalf("expected DELIVERY, got %s (ok=%v)", next, ok)
	}

	next, ok = NextPhase(PhaseQualityCheck, PhaseResult{QualityPassed: false})
	if !ok || next != PhaseRevision {
		t.Fatalf("expected REVISION, got %s (ok=%v)", next, ok)
	}

	// 返工后回到质检，构成生命周期里唯一允许的环。
	next, ok = NextPhase(PhaseRevision, PhaseResult{})
	if !ok || next != PhaseQualityCheck {
		t.Fatalf("expected QUALITY_CHECK after revision, got %s (ok=%v)", next, ok)
	}
}

func TestNextPhaseTerminalPhasesHaveNoSuccessor(t *testing.T) {
	for _, phase := range []Phase{PhaseCompleted, PhaseFailed, PhaseCancelled} {
		if next, ok := NextPhase(phase, PhaseResult{Qualified: true, QualityPassed: true}); ok {
			t.Fatalf("terminal phase %s yielded successor %s", phase, next)
		}
		if !IsTerminal(phase) {
			t.Fatalf("expected %s to be terminal", phase)
		}
	}
}

func TestIsValidPhase(t *testing.T) {
	for _, phase := range Phases() {
		if !IsValidPhase(phase) {
			t.Fatalf("expected %s to be valid", phase)
		}
	}
	if IsValidPhase(Phase("NEGOTIATION")) {
		t.Fatal("unexpected phase accepted")
	}
	if IsValidPhase("") {
		t.Fatal("empty phase accepted")
	}
}
