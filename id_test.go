package durex

import "testing"

func TestNewWorkerIDUnique(t *testing.T) {
	a := NewWorkerID()
	b := NewWorkerID()
	if a == b {
		t.Fatalf("expected distinct worker ids, got %q twice", a)
	}
	if len(a) != 36 {
		t.Fatalf("expected a 36-char UUID string, got %q (len %d)", a, len(a))
	}
}

func TestNowMSDoesNotGoBackwards(t *testing.T) {
	a := nowMS()
	b := nowMS()
	if b < a {
		t.Fatalf("nowMS went backwards: %d then %d", a, b)
	}
}
