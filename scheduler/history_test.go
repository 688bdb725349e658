package scheduler

import (
	"testing"
	"time"
)

func TestHistoryOrdersOldestFirstBeforeWraparound(t *testing.T) {
	h := newHistory(4)
	now := time.Now()

	for i, stage := range []string{"QUEUED", "DISPATCHED", "COMPLETED"} {
		h.record(TaskEvent{TaskID: "t1", Stage: stage, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	got := h.recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	want := []string{"QUEUED", "DISPATCHED", "COMPLETED"}
	for i, w := range want {
		if got[i].Stage != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, got[i].Stage)
		}
	}
}

func TestHistoryWrapsAroundAtCapacity(t *testing.T) {
	h := newHistory(3)

	for i := 0; i < 5; i++ {
		h.record(TaskEvent{TaskID: "t", Stage: string(rune('A' + i))})
	}

	got := h.recent(0)
	if len(got) != 3 {
		t.Fatalf("expected capacity-bounded 3 events, got %d", len(got))
	}
	// Only the 3 most recent writes (C, D, E) should survive, oldest first.
	want := []string{"C", "D", "E"}
	for i, w := range want {
		if got[i].Stage != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, got[i].Stage)
		}
	}
}

func TestHistoryRecentLimitReturnsTail(t *testing.T) {
	h := newHistory(10)
	for i := 0; i < 5; i++ {
		h.record(TaskEvent{TaskID: "t", Stage: string(rune('A' + i))})
	}

	got := h.recent(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Stage != "D" || got[1].Stage != "E" {
		t.Fatalf("expected [D E], got [%s %s]", got[0].Stage, got[1].Stage)
	}
}
