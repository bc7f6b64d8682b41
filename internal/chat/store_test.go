package chat

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeClock is an adjustable test clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func TestAppendCapsFIFO(t *testing.T) {
	s := NewThreadStore(50, nil)

	for i := 0; i < 51; i++ {
		s.Append("zone:a", RoleUser, fmt.Sprintf("msg-%d", i))
	}

	if got := s.Len("zone:a"); got != 50 {
		t.Fatalf("len = %d, want 50", got)
	}

	thread := s.GetOrCreate("zone:a")
	if thread.Messages[0].Text != "msg-1" {
		t.Errorf("oldest surviving message = %q, want msg-1", thread.Messages[0].Text)
	}
	if thread.Messages[49].Text != "msg-50" {
		t.Errorf("newest message = %q, want msg-50", thread.Messages[49].Text)
	}
}

func TestThreadsAreIndependent(t *testing.T) {
	s := NewThreadStore(0, nil)
	s.Append("zone:a", RoleUser, "hello")
	if got := s.Len("zone:b"); got != 0 {
		t.Errorf("unrelated thread len = %d, want 0", got)
	}
}

func TestSummaryRendering(t *testing.T) {
	s := NewThreadStore(0, nil)
	s.Append("k", RoleUser, "what should I plant?")
	s.Append("k", RoleAssistant, "rice looks best")
	s.Append("k", RoleUser, "why rice?")

	got := s.Summary("k", 2)
	want := "Assistant: rice looks best\nUser: why rice?"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}

	if s.Summary("missing", 10) != "" {
		t.Error("summary of absent thread should be empty")
	}
}

func TestSummaryMostRecentLast(t *testing.T) {
	s := NewThreadStore(0, nil)
	for i := 0; i < 5; i++ {
		s.Append("k", RoleUser, fmt.Sprintf("m%d", i))
	}
	got := s.Summary("k", 3)
	if !strings.HasSuffix(got, "m4") {
		t.Errorf("most recent message should be last: %q", got)
	}
}

func TestSweepTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	s := NewThreadStore(0, clock.now)

	s.Append("exact", RoleUser, "hi")
	clock.advance(time.Hour)
	s.Append("fresh", RoleUser, "hi")

	clock.advance(23 * time.Hour)

	// "exact" is now exactly 24h idle; eviction requires strictly older.
	if removed := s.Sweep(24 * time.Hour); removed != 0 {
		t.Fatalf("sweep at the exact boundary removed %d, want 0", removed)
	}

	clock.advance(time.Nanosecond)
	if removed := s.Sweep(24 * time.Hour); removed != 1 {
		t.Fatalf("sweep past the boundary removed %d, want 1", removed)
	}
	if s.Len("exact") != 0 {
		t.Error("swept thread should be gone")
	}
	if s.Len("fresh") != 1 {
		t.Error("fresh thread should survive")
	}
}

func TestSweepResetByActivity(t *testing.T) {
	clock := newFakeClock()
	s := NewThreadStore(0, clock.now)

	s.Append("k", RoleUser, "first")
	clock.advance(20 * time.Hour)
	s.Append("k", RoleUser, "second")
	clock.advance(20 * time.Hour)

	if removed := s.Sweep(24 * time.Hour); removed != 0 {
		t.Errorf("activity should reset the idle clock, removed %d", removed)
	}
}

func TestGetOrCreateReturnsCopy(t *testing.T) {
	s := NewThreadStore(0, nil)
	s.Append("k", RoleUser, "original")

	thread := s.GetOrCreate("k")
	thread.Messages[0].Text = "mutated"

	if s.GetOrCreate("k").Messages[0].Text != "original" {
		t.Error("mutating the returned thread leaked into the store")
	}
}
