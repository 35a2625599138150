package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonPlanning)
	if Reason(err) != ReasonPlanning {
		t.Fatalf("expected reason %s, got %s", ReasonPlanning, Reason(err))
	}
	if !HasReason(err, ReasonPlanning) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonTranscription)
	second := Wrap(first, ReasonPlanning)
	if Reason(second) != ReasonTranscription {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonAction) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
