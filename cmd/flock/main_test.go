package main

import "testing"

func TestRunRejectsOverlappingFailureModes(t *testing.T) {
	code := run([]string{"-n", "5", "-fail-arbitrary", "1,2", "-fail-stop", "2,3"})
	if code != 1 {
		t.Fatalf("run() = %d, want 1 for overlapping failure-mode sets", code)
	}
}

func TestRunRejectsBadSlotConfig(t *testing.T) {
	code := run([]string{"-n", "3", "-slot-config", "5,4,4"})
	if code != 1 {
		t.Fatalf("run() = %d, want 1 for phase1+phase2 >= slot_duration", code)
	}
}

func TestRunRejectsUnparsableFlags(t *testing.T) {
	code := run([]string{"-port", "not-a-number"})
	if code != 2 {
		t.Fatalf("run() = %d, want 2 for flag parse error", code)
	}
}
