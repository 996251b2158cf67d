package recordlog

import "testing"

func TestAccumulator_CompletesOnTerminator(t *testing.T) {
	a := newAccumulator(64)

	if err := a.append([]byte("partial")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec := a.takeIfTerminated([]byte("partial"), '\n'); rec != nil {
		t.Fatalf("record completed without terminator: %q", rec.data)
	}

	if err := a.append([]byte(" done\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	rec := a.takeIfTerminated([]byte(" done\n"), '\n')
	if rec == nil {
		t.Fatalf("expected a record after terminator")
	}
	if string(rec.data) != "partial done\n" {
		t.Fatalf("record = %q", rec.data)
	}
	if a.len() != 0 {
		t.Fatalf("accumulator not reset, len=%d", a.len())
	}
}

func TestAccumulator_RecordDoesNotAliasScratch(t *testing.T) {
	a := newAccumulator(64)
	_ = a.append([]byte("one\n"))
	rec := a.takeIfTerminated([]byte("one\n"), '\n')

	_ = a.append([]byte("two\n"))
	if string(rec.data) != "one\n" {
		t.Fatalf("record changed after accumulator reuse: %q", rec.data)
	}
}

func TestAccumulator_CapacityBound(t *testing.T) {
	a := newAccumulator(4)

	if err := a.append([]byte("abc")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.append([]byte("de")); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if a.len() != 3 {
		t.Fatalf("failed append must not change length, got %d", a.len())
	}
	if a.remaining() != 1 {
		t.Fatalf("remaining = %d, want 1", a.remaining())
	}
}

func TestAccumulator_CustomTerminator(t *testing.T) {
	a := newAccumulator(16)
	_ = a.append([]byte("x;"))
	if rec := a.takeIfTerminated([]byte("x;"), '\n'); rec != nil {
		t.Fatalf("newline terminator matched ';'")
	}
	if rec := a.takeIfTerminated([]byte("x;"), ';'); rec == nil || string(rec.data) != "x;" {
		t.Fatalf("expected record \"x;\", got %v", rec)
	}
}
