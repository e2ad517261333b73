package ledger

import "testing"

func TestLoadMissingRunReturnsErrNoLedger(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = l.Load("run-does-not-exist")
	if err != ErrNoLedger {
		t.Fatalf("expected ErrNoLedger, got %v", err)
	}
}

func TestRecordThenLoadRoundTripsScopedByRunID(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := l.Record("run1", "g1"); err != nil {
		t.Fatalf("record g1: %v", err)
	}
	if err := l.Record("run1", "g2"); err != nil {
		t.Fatalf("record g2: %v", err)
	}
	if err := l.Record("run2", "g3"); err != nil {
		t.Fatalf("record g3: %v", err)
	}

	run1, err := l.Load("run1")
	if err != nil {
		t.Fatalf("load run1: %v", err)
	}
	if len(run1) != 2 || !run1["g1"] || !run1["g2"] {
		t.Fatalf("unexpected run1 committed set: %+v", run1)
	}

	run2, err := l.Load("run2")
	if err != nil {
		t.Fatalf("load run2: %v", err)
	}
	if len(run2) != 1 || !run2["g3"] {
		t.Fatalf("unexpected run2 committed set: %+v", run2)
	}
}
