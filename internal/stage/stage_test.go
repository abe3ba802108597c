package stage_test

import (
	"testing"

	"pressline/internal/stage"
)

func TestSequenceOrdering(t *testing.T) {
	seq := stage.Sequence(stage.TypeStandard)
	if seq[0] != stage.OrderConfirmed {
		t.Fatalf("sequence starts with %s", seq[0])
	}
	if seq[len(seq)-1] != stage.Finished {
		t.Fatalf("sequence ends with %s", seq[len(seq)-1])
	}
	for i, s := range seq {
		if stage.Index(stage.TypeStandard, s) != i {
			t.Fatalf("index of %s = %d, want %d", s, stage.Index(stage.TypeStandard, s), i)
		}
	}
}

func TestQuoteSequenceSkipsProduction(t *testing.T) {
	if stage.Valid(stage.TypeQuote, stage.PendingProduction) {
		t.Fatalf("quote projects should not carry a production stage")
	}
	if !stage.Valid(stage.TypeQuote, stage.PendingQuote) {
		t.Fatalf("quote projects should carry Pending Quote")
	}
	if stage.Valid(stage.TypeStandard, stage.PendingQuote) {
		t.Fatalf("standard projects should not carry Pending Quote")
	}
}

func TestCanTransition(t *testing.T) {
	if !stage.CanTransition(stage.TypeStandard, stage.OrderConfirmed, stage.PendingScopeApproval) {
		t.Fatalf("single forward step should be allowed")
	}
	if stage.CanTransition(stage.TypeStandard, stage.OrderConfirmed, stage.ScopeApprovalCompleted) {
		t.Fatalf("skipping a step should be rejected")
	}
	if stage.CanTransition(stage.TypeStandard, stage.PendingScopeApproval, stage.OrderConfirmed) {
		t.Fatalf("backward step should be rejected")
	}
	if stage.CanTransition(stage.TypeStandard, stage.Completed, stage.Finished) {
		t.Fatalf("Finished is never a transition target")
	}
}

func TestDepartmentForCompletion(t *testing.T) {
	d, ok := stage.DepartmentForCompletion(stage.MockupCompleted)
	if !ok || d != stage.DeptGraphics {
		t.Fatalf("MockupCompleted should belong to graphics, got %s", d)
	}
	if _, ok := stage.DepartmentForCompletion(stage.Delivered); ok {
		t.Fatalf("Delivered is not a department completion")
	}
	pair, ok := stage.DepartmentStages(stage.DeptProduction)
	if !ok || pair.Pending != stage.PendingProduction || pair.Complete != stage.ProductionCompleted {
		t.Fatalf("unexpected production pair %+v", pair)
	}
}

func TestCanAcknowledge(t *testing.T) {
	if stage.CanAcknowledge(stage.TypeStandard, stage.OrderConfirmed) {
		t.Fatalf("acknowledgements should be closed before scope approval")
	}
	if !stage.CanAcknowledge(stage.TypeStandard, stage.ScopeApprovalCompleted) {
		t.Fatalf("acknowledgements should open at scope approval completion")
	}
	if !stage.CanAcknowledge(stage.TypeStandard, stage.PendingProduction) {
		t.Fatalf("acknowledgements should stay open mid-flow")
	}
	if stage.CanAcknowledge(stage.TypeStandard, stage.Finished) {
		t.Fatalf("archived projects accept no acknowledgements")
	}
}

func TestDefaultPriority(t *testing.T) {
	if stage.DefaultPriority(stage.TypeEmergency) != stage.PriorityUrgent {
		t.Fatalf("emergency should default urgent")
	}
	if stage.DefaultPriority(stage.TypeStandard) != stage.PriorityNormal {
		t.Fatalf("standard should default normal")
	}
}

func TestParse(t *testing.T) {
	if _, err := stage.Parse(stage.TypeStandard, "Delivered"); err != nil {
		t.Fatalf("parse known status: %v", err)
	}
	if _, err := stage.Parse(stage.TypeStandard, "Shipped"); err == nil {
		t.Fatalf("unknown status should fail")
	}
}
