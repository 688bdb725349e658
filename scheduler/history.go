package scheduler

import (
	"sync"
	"time"
)

// TaskEvent is one entry in the scheduler's task history. Purely
// observational: the scheduler never reads its own history to make a
// scheduling decision.
type TaskEvent struct {
	TaskID    string
	Stage     string // QUEUED, DISPATCHED, COMPLETED, FAILED, REJECTED, DEFERRED
	Priority  string
	Reason    string
	Timestamp time.Time
}

// history is a bounded, append-only ring buffer of TaskEvents. Capped
// since a long-lived scheduler instance should not accumulate history
// forever.
type history struct {
	mu     sync.Mutex
	events []TaskEvent
	cap    int
	next   int
	filled bool
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 256
	}
	return &history{
		events: make([]TaskEvent, capacity),
		cap:    capacity,
	}
}

func (h *history) record(e TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = e
	h.next = (h.next + 1) % h.cap
	if h.next == 0 {
		h.filled = true
	}
}

// recent returns up to limit most-recent events, oldest first. limit <= 0
// means "all retained events".
func (h *history) recent(limit int) []TaskEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []TaskEvent
	if h.filled {
		ordered = append(ordered, h.events[h.next:]...)
		ordered = append(ordered, h.events[:h.next]...)
	} else {
		ordered = append(ordered, h.events[:h.next]...)
	}

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	out := make([]TaskEvent, len(ordered))
	copy(out, ordered)
	return out
}
