package durex

import "testing"

func TestCrashPolicyZeroValueNeverFires(t *testing.T) {
	var p CrashPolicy
	if p.ShouldCrash("any-step", PhaseBeforeExecute) {
		t.Fatal("zero-value policy should never crash")
	}
	if p.ShouldCrash("any-step", PhaseAfterCommit) {
		t.Fatal("zero-value policy should never crash")
	}
}

func TestCrashPolicyMatchesStepAndPhase(t *testing.T) {
	p := CrashPolicy{StepID: "step-a", Phase: PhaseAfterExecuteBeforeCommit}
	if !p.ShouldCrash("step-a", PhaseAfterExecuteBeforeCommit) {
		t.Fatal("expected crash for matching step and phase")
	}
	if p.ShouldCrash("step-b", PhaseAfterExecuteBeforeCommit) {
		t.Fatal("did not expect crash for a different step id")
	}
	if p.ShouldCrash("step-a", PhaseAfterCommit) {
		t.Fatal("did not expect crash for a different phase")
	}
}

func TestCrashPolicyEmptyStepIDMatchesAny(t *testing.T) {
	p := CrashPolicy{Phase: PhaseBeforeExecute}
	if !p.ShouldCrash("whatever-step", PhaseBeforeExecute) {
		t.Fatal("expected empty StepID to match any step")
	}
}
