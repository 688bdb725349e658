package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tsayin4/cost-aware-scheduler/observability"
)

// defaultScanDepth is the number of heap-head candidates ExecuteNext
// inspects before giving up, unless overridden with WithScanDepth.
const defaultScanDepth = 5

// Metrics is the snapshot returned by GetMetrics.
type Metrics struct {
	Name               string
	QueueSize          int
	TasksQueued        uint64
	TasksExecuted      uint64
	TasksRejected      uint64
	TasksDeferred      uint64
	CurrentUsage       ResourceUsage
	TotalCostSpent     ResourceUsage
	APITokensAvailable float64
	BreakerState       string
	// CategoryTokens reports the current token balance for every category
	// the category limiter has seen so far. A category is first seen when
	// a tagged task is checked against its bucket at dispatch time. Nil
	// when category limiting is disabled or no category has been seen yet.
	CategoryTokens map[string]float64
}

// Scheduler orchestrates submission, selection, execution, and metrics
// behind a single serializing lock.
type Scheduler struct {
	name       string
	instanceID string

	mu         sync.Mutex
	queue      *priorityQueue
	budgetAcct *budgetAccountant
	breaker    *backpressureBreaker
	catLimiter *categoryLimiter
	hist       *history
	scanDepth  int
	stopped    bool

	taskSeq uint64 // atomic: next task-id suffix

	tasksQueued   uint64 // atomic
	tasksExecuted uint64 // atomic
	tasksRejected uint64 // atomic
	tasksDeferred uint64 // atomic

	clock func() time.Time

	refillStop chan struct{}
	refillDone chan struct{}
	started    bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithBackpressureThreshold enables the backpressure breaker: once the
// queue depth exceeds threshold, new submissions are rejected with
// ErrBackpressure until it cools down. threshold <= 0 disables the
// breaker (the default).
func WithBackpressureThreshold(threshold int) Option {
	return func(s *Scheduler) {
		s.breaker = newBackpressureBreaker(threshold, 30*time.Second)
	}
}

// WithCategoryLimit enables the per-tag category limiter with the given
// sustained rate (tokens/sec) and burst.
func WithCategoryLimit(ratePerSecond float64, burst int) Option {
	return func(s *Scheduler) {
		s.catLimiter = newCategoryLimiter(ratePerSecond, burst)
	}
}

// WithScanDepth overrides the default 5-candidate ExecuteNext scan depth.
// A tuning constant, not a semantic requirement.
func WithScanDepth(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.scanDepth = n
		}
	}
}

// WithHistoryCapacity overrides the default task-history ring size.
func WithHistoryCapacity(n int) Option {
	return func(s *Scheduler) {
		s.hist = newHistory(n)
	}
}

// withClock overrides the scheduler's notion of "now"; used by tests that
// need to simulate age-based promotion or token refill without sleeping.
func withClock(c func() time.Time) Option {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler constructs a Scheduler. budget is validated immediately;
// an invalid budget (any non-positive dimension) returns ErrInvalidBudget.
// Callers that want the out-of-the-box budget should pass
// DefaultResourceBudget(). name is used as the task-id prefix and as a
// metrics label.
func NewScheduler(budget ResourceBudget, name string, opts ...Option) (*Scheduler, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = "default"
	}

	s := &Scheduler{
		name:       name,
		instanceID: uuid.NewString(),
		queue:      newPriorityQueue(),
		scanDepth:  defaultScanDepth,
		hist:       newHistory(0),
		clock:      time.Now,
	}
	s.budgetAcct = newBudgetAccountant(budget, s.clock())

	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = newBackpressureBreaker(0, 0)
	}
	return s, nil
}

func (s *Scheduler) now() time.Time { return s.clock() }

// Start launches the background token-refill loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopped = false
	s.refillStop = make(chan struct{})
	s.refillDone = make(chan struct{})
	go s.runRefiller(s.refillStop, s.refillDone)
}

// Stop cancels the refiller and awaits its cleanup. After Stop, Schedule
// returns ErrStopped until Start is called again; already-queued tasks can
// still be drained via ExecuteNext/ExecuteAll. Stop on a scheduler whose
// refiller is not running does nothing, so Schedule keeps admitting.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopped = true
	stop := s.refillStop
	done := s.refillDone
	s.mu.Unlock()

	close(stop)
	<-done
}

// nextTaskID returns a per-instance-unique id: the scheduler's name plus
// a monotonic counter. A counter is collision-free under burst
// submission regardless of clock resolution, unlike a timestamp-based
// scheme.
func (s *Scheduler) nextTaskID() string {
	n := atomic.AddUint64(&s.taskSeq, 1)
	return fmt.Sprintf("%s-%06d", s.name, n)
}

// ScheduleOptions bundles the optional parameters to Schedule beyond the
// callable itself. Cost is a value, not a pointer: the zero value is a
// legitimate zero-cost task, so it is never silently replaced: callers
// that want the scheduler's defaults must set Cost to DefaultTaskCost()
// explicitly.
type ScheduleOptions struct {
	Priority         TaskPriority
	Cost             TaskCost
	Args             []any
	RejectIfNoBudget bool
}

// Schedule admits a task to the queue, or rejects it. Admission order:
// backpressure breaker, then (if RejectIfNoBudget) the category limiter
// and the budget affordability check. A task that fails neither gate is
// pushed onto the priority queue with its score frozen against the
// current time.
func (s *Scheduler) Schedule(fn TaskFunc, opts ScheduleOptions) (string, error) {
	if opts.Priority == 0 {
		opts.Priority = PriorityNormal
	}

	now := s.now()
	taskID := s.nextTaskID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return "", ErrStopped
	}

	if !s.breaker.canAdmit(s.queue.len(), now) {
		atomic.AddUint64(&s.tasksRejected, 1)
		s.recordEvent(taskID, "REJECTED", opts.Priority, "backpressure breaker open")
		s.emitDecisionLog(taskID, "REJECT", "backpressure breaker open")
		observability.Decisions.WithLabelValues(s.name, "rejected", "backpressure breaker open").Inc()
		return "", ErrBackpressure
	}

	if opts.RejectIfNoBudget && !s.catLimiter.wouldAdmit(opts.Cost.Tag) {
		atomic.AddUint64(&s.tasksRejected, 1)
		s.recordEvent(taskID, "REJECTED", opts.Priority, "category throttled")
		s.emitDecisionLog(taskID, "REJECT", "category throttled")
		observability.Decisions.WithLabelValues(s.name, "rejected", "category throttled").Inc()
		return "", ErrCategoryThrottled
	}

	if opts.RejectIfNoBudget && !s.budgetAcct.canAfford(opts.Cost) {
		atomic.AddUint64(&s.tasksRejected, 1)
		s.recordEvent(taskID, "REJECTED", opts.Priority, "budget exhausted")
		s.emitDecisionLog(taskID, "REJECT", "budget exhausted")
		observability.Decisions.WithLabelValues(s.name, "rejected", "budget exhausted").Inc()
		return "", ErrBudgetExhausted
	}

	task := newScheduledTask(taskID, opts.Priority, opts.Cost, fn, opts.Args, opts.RejectIfNoBudget, now)
	s.queue.push(task)
	atomic.AddUint64(&s.tasksQueued, 1)
	s.recordEvent(taskID, "QUEUED", opts.Priority, "")
	s.updateGaugesLocked()

	return taskID, nil
}

// ExecuteNext selects and runs at most one task, scanning up to
// scanDepth heap-head candidates. It returns the task's result, or
// (nil, nil, false) if no task was dispatched (empty queue, or every
// scanned candidate unaffordable/throttled).
func (s *Scheduler) ExecuteNext(ctx context.Context) (result any, execErr error, dispatched bool) {
	task, taskErr := s.selectNext()
	if task == nil {
		return nil, taskErr, false
	}

	start := s.now()
	result, execErr = s.runTask(ctx, task)
	duration := s.now().Sub(start).Seconds()
	observability.TaskDuration.WithLabelValues(s.name, task.Priority.String()).Observe(duration)

	s.mu.Lock()
	s.budgetAcct.release(task.Cost)
	s.breaker.recordDispatch()
	if execErr == nil {
		atomic.AddUint64(&s.tasksExecuted, 1)
		s.recordEvent(task.TaskID, "COMPLETED", task.Priority, "")
	} else {
		s.recordEvent(task.TaskID, "FAILED", task.Priority, execErr.Error())
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	return result, execErr, true
}

// runTask invokes the task's callable outside the scheduler lock, so a
// slow task never blocks Schedule or the refiller. A panic inside the
// callable is converted to an error so the release in ExecuteNext
// always runs.
func (s *Scheduler) runTask(ctx context.Context, task *ScheduledTask) (result any, execErr error) {
	defer func() {
		if r := recover(); r != nil {
			execErr = fmt.Errorf("scheduler: task %s panicked: %v", task.TaskID, r)
		}
	}()
	return task.Func(ctx, task.Args...)
}

// selectNext walks up to scanDepth heap heads, returning the first
// affordable/admissible one and pushing the rest back. Must acquire and
// release the scheduler lock itself since it dispatches reservations
// under the lock and returns with the lock released.
func (s *Scheduler) selectNext() (*ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.len() == 0 {
		return nil, nil
	}

	var setAside []*ScheduledTask
	var chosen *ScheduledTask

	depth := s.scanDepth
	for i := 0; i < depth; i++ {
		candidate := s.queue.popHead()
		if candidate == nil {
			break
		}

		affordable := s.budgetAcct.canAfford(candidate.Cost)
		inCategory := affordable && s.catLimiter.allow(candidate.Cost.Tag)

		if affordable && inCategory {
			chosen = candidate
			break
		}

		setAside = append(setAside, candidate)
		atomic.AddUint64(&s.tasksDeferred, 1)
		reason := deferralReason(affordable, inCategory)
		s.recordEvent(candidate.TaskID, "DEFERRED", candidate.Priority, reason)
		observability.Decisions.WithLabelValues(s.name, "deferred", reason).Inc()
	}

	for _, t := range setAside {
		s.queue.pushBack(t)
	}

	if chosen == nil {
		s.updateGaugesLocked()
		return nil, nil
	}

	s.budgetAcct.reserve(chosen.Cost)
	s.recordEvent(chosen.TaskID, "DISPATCHED", chosen.Priority, "")
	s.emitDecisionLog(chosen.TaskID, "DISPATCH", "")
	observability.Decisions.WithLabelValues(s.name, "dispatched", "").Inc()
	s.updateGaugesLocked()

	return chosen, nil
}

// deferralReason explains why a scanned candidate wasn't dispatched.
// inCategory is only meaningful when affordable is true: selectNext
// short-circuits the category check on an unaffordable candidate so it
// never spends a token off a bucket it's not going to use, which means
// affordable alone already distinguishes the two deferral causes.
func deferralReason(affordable, inCategory bool) string {
	if !affordable {
		return "budget exhausted"
	}
	return "category throttled"
}

// ExecuteAll repeatedly calls ExecuteNext until a call dispatches
// nothing, pausing 100ms after each dispatch. It returns nil as soon as a
// call dispatches nothing, even if unaffordable tasks are still queued;
// it returns the first task error, or ctx's error if ctx is done during a
// pause.
func (s *Scheduler) ExecuteAll(ctx context.Context) error {
	for {
		_, execErr, dispatched := s.ExecuteNext(ctx)
		if !dispatched {
			return nil
		}
		if execErr != nil {
			return execErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// GetMetrics returns a snapshot of counters and current usage.
func (s *Scheduler) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Metrics{
		Name:               s.name,
		QueueSize:          s.queue.len(),
		TasksQueued:        atomic.LoadUint64(&s.tasksQueued),
		TasksExecuted:      atomic.LoadUint64(&s.tasksExecuted),
		TasksRejected:      atomic.LoadUint64(&s.tasksRejected),
		TasksDeferred:      atomic.LoadUint64(&s.tasksDeferred),
		CurrentUsage:       s.budgetAcct.usage(),
		TotalCostSpent:     s.budgetAcct.totalSpent(),
		APITokensAvailable: s.budgetAcct.apiTokens,
		BreakerState:       s.breaker.String(),
		CategoryTokens:     s.catLimiter.snapshot(),
	}
}

// GetQueueStatus returns a point-in-time, sorted view of queued tasks. It
// never mutates the queue.
func (s *Scheduler) GetQueueStatus() []QueuedTaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tasks := s.queue.snapshot()
	out := make([]QueuedTaskStatus, len(tasks))
	for i, t := range tasks {
		out[i] = QueuedTaskStatus{
			TaskID:     t.TaskID,
			Priority:   t.Priority.String(),
			Cost:       t.Cost,
			AgeSeconds: t.AgeSeconds(now),
			Score:      t.priorityScore,
		}
	}
	return out
}

// History returns up to limit most-recent task lifecycle events.
// limit <= 0 returns everything retained.
func (s *Scheduler) History(limit int) []TaskEvent {
	return s.hist.recent(limit)
}

func (s *Scheduler) recordEvent(taskID, stage string, priority TaskPriority, reason string) {
	s.hist.record(TaskEvent{
		TaskID:    taskID,
		Stage:     stage,
		Priority:  priority.String(),
		Reason:    reason,
		Timestamp: s.now(),
	})
}

// schedulingDecision is the structured log line emitted for dispatch and
// rejection decisions.
type schedulingDecision struct {
	Component string `json:"component"`
	Scheduler string `json:"scheduler"`
	Decision  string `json:"decision"`
	TaskID    string `json:"task_id"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Scheduler) emitDecisionLog(taskID, decision, reason string) {
	b, _ := json.Marshal(schedulingDecision{
		Component: "scheduler",
		Scheduler: s.name,
		Decision:  decision,
		TaskID:    taskID,
		Reason:    reason,
	})
	log.Println(string(b))
}

// updateGaugesLocked refreshes the Prometheus gauges. Must be called with
// s.mu held.
func (s *Scheduler) updateGaugesLocked() {
	observability.QueueDepth.WithLabelValues(s.name).Set(float64(s.queue.len()))
	observability.APITokensAvailable.WithLabelValues(s.name).Set(s.budgetAcct.apiTokens)
	observability.ReservedComputeUnits.WithLabelValues(s.name).Set(s.budgetAcct.usedCompute)
	observability.ReservedMemoryMB.WithLabelValues(s.name).Set(s.budgetAcct.usedMemory)

	var stateVal float64
	switch s.breaker.state {
	case breakerHalfOpen:
		stateVal = 1
	case breakerOpen:
		stateVal = 2
	}
	observability.BreakerState.WithLabelValues(s.name).Set(stateVal)
}

// InstanceID returns the scheduler's unique instance identifier, useful
// for distinguishing multiple in-process schedulers in logs when several
// share the same name.
func (s *Scheduler) InstanceID() string {
	return s.instanceID
}
