package scheduler

import "testing"

func TestMemorySchedulerCount(t *testing.T) {
	s := NewMemoryScheduler()
	s.RegisterEvent(Source, "q1")
	s.RegisterEvent(Destination, "q1")
	s.RegisterEvent(Destination, "q2")

	if got := s.Count(Source); got != 1 {
		t.Fatalf("Count(Source) = %d, want 1", got)
	}
	if got := s.Count(Destination); got != 2 {
		t.Fatalf("Count(Destination) = %d, want 2", got)
	}
}
