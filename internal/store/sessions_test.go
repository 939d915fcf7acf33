package store

import "testing"

func TestSessions_HistoryRoundTrip(t *testing.T) {
	s, err := NewSessions(4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Append("s1", Turn{Role: "user", Content: "hi"})
	s.Append("s1", Turn{Role: "assistant", Content: "hello"})
	h := s.History("s1")
	if len(h) != 2 || h[0].Content != "hi" || h[1].Role != "assistant" {
		t.Fatalf("history = %+v", h)
	}
	if len(s.History("other")) != 0 {
		t.Fatalf("expected empty history for unknown session")
	}
}

func TestSessions_GreetedExactlyOnce(t *testing.T) {
	s, _ := NewSessions(4)
	if !s.MarkGreeted("s1") {
		t.Fatalf("first greeting should fire")
	}
	if s.MarkGreeted("s1") {
		t.Fatalf("second greeting must not fire")
	}
	if !s.MarkGreeted("s2") {
		t.Fatalf("separate session greets independently")
	}
}

func TestSessions_LRUEvictsOldest(t *testing.T) {
	s, _ := NewSessions(2)
	s.Append("a", Turn{Role: "user", Content: "1"})
	s.Append("b", Turn{Role: "user", Content: "2"})
	s.Append("c", Turn{Role: "user", Content: "3"})
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if len(s.History("a")) != 0 {
		t.Fatalf("expected session a evicted")
	}
}

func TestSessions_HistoryCapped(t *testing.T) {
	s, _ := NewSessions(2)
	for i := 0; i < maxHistoryTurns+10; i++ {
		s.Append("s", Turn{Role: "user", Content: "x"})
	}
	if n := len(s.History("s")); n != maxHistoryTurns {
		t.Fatalf("history len = %d, want %d", n, maxHistoryTurns)
	}
}
