package sessions

import (
	"testing"
	"time"

	"github.com/ddalcu/agent-orcha/pkg/models"
)

func TestStoreFIFOCap(t *testing.T) {
	s := New(WithMaxMessagesPerSession(3))
	defer s.Destroy()

	for i := 0; i < 4; i++ {
		s.Add("s1", models.NewHumanMessage(string(rune('a'+i))))
	}

	got := s.Get("s1")
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	want := []string{"b", "c", "d"}
	for i, m := range got {
		if m.Text() != want[i] {
			t.Fatalf("message %d = %q, want %q", i, m.Text(), want[i])
		}
	}
}

func TestStoreGetIsDefensiveCopy(t *testing.T) {
	s := New()
	defer s.Destroy()

	s.Add("s1", models.NewHumanMessage("hi"))
	got := s.Get("s1")
	got[0] = models.NewHumanMessage("mutated")

	got2 := s.Get("s1")
	if got2[0].Text() != "hi" {
		t.Fatalf("mutating the returned slice affected internal state: %q", got2[0].Text())
	}
}

func TestStoreHasAndCount(t *testing.T) {
	s := New()
	defer s.Destroy()

	if s.Has("s1") {
		t.Fatal("expected no session yet")
	}
	s.Add("s1", models.NewHumanMessage("hi"))
	if !s.Has("s1") {
		t.Fatal("expected session to exist")
	}
	if s.Count("s1") != 1 {
		t.Fatalf("expected count 1, got %d", s.Count("s1"))
	}
}

func TestStoreClear(t *testing.T) {
	s := New()
	defer s.Destroy()

	s.Add("s1", models.NewHumanMessage("hi"))
	s.Clear("s1")
	if s.Has("s1") {
		t.Fatal("expected session cleared")
	}
}

func TestStoreTTLCleanup(t *testing.T) {
	s := New(WithSessionTTL(10 * time.Millisecond))
	defer s.Destroy()

	s.Add("s1", models.NewHumanMessage("hi"))
	time.Sleep(20 * time.Millisecond)
	s.Cleanup()

	if s.Has("s1") {
		t.Fatal("expected session to be evicted by TTL")
	}
}

func TestStoreGetMissingSession(t *testing.T) {
	s := New()
	defer s.Destroy()

	if got := s.Get("missing"); got != nil {
		t.Fatalf("expected nil for missing session, got %v", got)
	}
}

func TestStoreDestroyStopsSweeper(t *testing.T) {
	s := New(WithSessionTTL(5 * time.Millisecond))
	s.Add("s1", models.NewHumanMessage("hi"))
	s.Destroy()

	// Destroy should not panic or deadlock, and state should be cleared.
	if s.Has("s1") {
		t.Fatal("expected sessions cleared after destroy")
	}
}
