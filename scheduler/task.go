package scheduler

import (
	"context"
	"time"
)

// TaskFunc is the opaque callable a ScheduledTask wraps. It receives the
// context passed to ExecuteNext/ExecuteAll and the arguments bound at
// Schedule time, and returns a result or an error. The scheduler never
// inspects the result; it only observes success or failure.
type TaskFunc func(ctx context.Context, args ...any) (any, error)

// ScheduledTask is one queued unit of work. Its priority score is computed
// once at creation and never recomputed: the heap ordering for an
// already-queued task is stable regardless of how long it waits.
type ScheduledTask struct {
	TaskID    string
	Priority  TaskPriority
	Cost      TaskCost
	Func      TaskFunc
	Args      []any
	CreatedAt time.Time

	// RejectIfNoBudget records the admission policy this task was
	// submitted with, for diagnostics in GetQueueStatus.
	RejectIfNoBudget bool

	// priorityScore is frozen at submission; see calculateScore.
	priorityScore float64

	// seq is the insertion sequence number, used as a tie-break when two
	// tasks share a priority score.
	seq uint64

	// heapIndex is maintained by container/heap for O(log n) removal;
	// unused by this scheduler today but kept so a future Remove(taskID)
	// operation doesn't require a second data structure.
	heapIndex int
}

// calculateScore implements the weighted priority formula:
//
//	score = priority*10 + (compute + api_calls*0.5)*0.1 - age_minutes*0.5
//
// Lower scores dispatch first. The priority term dominates (10-40); the
// cost term is a small tiebreaker; the age term guarantees eventual
// promotion of older, lower-priority tasks.
func calculateScore(priority TaskPriority, cost TaskCost, createdAt, now time.Time) float64 {
	costFactor := cost.ComputeUnits + float64(cost.APICalls)*0.5
	ageMinutes := now.Sub(createdAt).Minutes()
	return float64(priority)*10.0 + costFactor*0.1 - ageMinutes*0.5
}

// newScheduledTask constructs a task and freezes its priority score
// against the given submission timestamp.
func newScheduledTask(taskID string, priority TaskPriority, cost TaskCost, fn TaskFunc, args []any, rejectIfNoBudget bool, createdAt time.Time) *ScheduledTask {
	t := &ScheduledTask{
		TaskID:           taskID,
		Priority:         priority,
		Cost:             cost,
		Func:             fn,
		Args:             args,
		CreatedAt:        createdAt,
		RejectIfNoBudget: rejectIfNoBudget,
	}
	t.priorityScore = calculateScore(priority, cost, createdAt, createdAt)
	return t
}

// AgeSeconds reports how long this task has been queued, as of now.
func (t *ScheduledTask) AgeSeconds(now time.Time) float64 {
	return now.Sub(t.CreatedAt).Seconds()
}

// QueuedTaskStatus is the point-in-time, read-only view of one queued task
// returned by GetQueueStatus. It must never be used to mutate the queue.
type QueuedTaskStatus struct {
	TaskID     string
	Priority   string
	Cost       TaskCost
	AgeSeconds float64
	Score      float64
}
