package listener

import "testing"

func TestSetAddSnapshotOrder(t *testing.T) {
	var s Set[func() int]
	s.Add(func() int { return 1 })
	s.Add(func() int { return 2 })
	s.Add(func() int { return 3 })

	fns := s.Snapshot()
	if len(fns) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(fns))
	}
	for i, fn := range fns {
		if got := fn(); got != i+1 {
			t.Errorf("callback %d returned %d", i, got)
		}
	}
}

func TestSetUnsubscribeRemovesOnlyOne(t *testing.T) {
	var s Set[func() string]
	s.Add(func() string { return "a" })
	unsubB := s.Add(func() string { return "b" })
	s.Add(func() string { return "c" })

	unsubB()
	unsubB() // idempotent

	var got []string
	for _, fn := range s.Snapshot() {
		got = append(got, fn())
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("expected [a c], got %v", got)
	}
}

func TestSetClear(t *testing.T) {
	var s Set[func()]
	s.Add(func() {})
	s.Add(func() {})
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("expected empty set, got %d", s.Len())
	}
}

func TestSetUnsubscribeDuringIteration(t *testing.T) {
	var s Set[func()]
	var unsub func()
	calls := 0
	unsub = s.Add(func() {
		calls++
		unsub()
	})

	for _, fn := range s.Snapshot() {
		fn()
	}
	for _, fn := range s.Snapshot() {
		fn()
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
