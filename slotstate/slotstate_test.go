package slotstate

import (
	"testing"

	"github.com/cryptosat/bounce"
)

func TestSupermajority(t *testing.T) {
	cases := []struct{ n, want int }{
		{10, 7},
		{25, 17},
		{1, 1},
		{3, 2},
	}
	for _, c := range cases {
		if got := Supermajority(c.n); got != c.want {
			t.Errorf("Supermajority(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestInfoNextResetsState(t *testing.T) {
	s := New()
	s.Signed = true
	s.Aggregated = true
	s.Record(bounce.Commit{Type: bounce.Precommit})
	s.Record(bounce.Commit{Type: bounce.Noncommit})

	s.Next()

	if s.I != 1 {
		t.Errorf("I = %d, want 1", s.I)
	}
	if s.Phase != First {
		t.Errorf("Phase = %v, want First", s.Phase)
	}
	if s.Signed || s.Aggregated {
		t.Error("expected Signed and Aggregated to reset to false")
	}
	if len(s.Precommits) != 0 || len(s.Noncommits) != 0 {
		t.Error("expected buffers to be cleared")
	}
}

func TestInfoJNeverRolledBackByNext(t *testing.T) {
	s := New()
	s.J = 5
	s.Next()
	if s.J != 5 {
		t.Errorf("J = %d, want 5 (Next must not touch J)", s.J)
	}
}

func TestBufferCountBound(t *testing.T) {
	s := New()
	const n = 4
	for i := 0; i < n; i++ {
		s.Record(bounce.Commit{Type: bounce.Precommit})
	}
	if len(s.Precommits)+len(s.Noncommits) > n {
		t.Errorf("buffer total %d exceeds N=%d", len(s.Precommits)+len(s.Noncommits), n)
	}
}
