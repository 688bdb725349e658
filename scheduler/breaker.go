package scheduler

import "time"

// breakerState is the backpressure breaker's three-state circuit model.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerHalfOpen:
		return "half_open"
	case breakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// backpressureBreaker is an optional admission gate consulted ahead of
// the budget accountant, purely on queue depth, independent of any
// single task's cost. A nil threshold (queueThreshold <= 0) disables it
// entirely: canAdmit always returns true and the state stays closed.
//
// Three-state machine (closed/half-open/open) with cooldown-then-probe
// recovery. Queue depth is the only backpressure signal it consults;
// there's no worker pool here to report saturation.
type backpressureBreaker struct {
	state CircuitState

	queueThreshold int
	cooldown       time.Duration
	testLimit      int

	openedAt  time.Time
	testCount int
}

// CircuitState is an exported alias of breakerState. GetMetrics does not
// use it: it reports the breaker state as the string from
// backpressureBreaker.String.
type CircuitState = breakerState

func newBackpressureBreaker(queueThreshold int, cooldown time.Duration) *backpressureBreaker {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &backpressureBreaker{
		state:          breakerClosed,
		queueThreshold: queueThreshold,
		cooldown:       cooldown,
		testLimit:      5,
	}
}

func (cb *backpressureBreaker) enabled() bool {
	return cb.queueThreshold > 0
}

// canAdmit decides whether a new submission should be accepted, given the
// current queue depth. Must be called under the scheduler lock.
func (cb *backpressureBreaker) canAdmit(queueDepth int, now time.Time) bool {
	if !cb.enabled() {
		return true
	}

	if cb.state == breakerOpen && now.Sub(cb.openedAt) > cb.cooldown {
		cb.state = breakerHalfOpen
		cb.testCount = 0
	}

	if cb.state == breakerHalfOpen {
		if cb.testCount < cb.testLimit {
			cb.testCount++
			return true
		}
		if queueDepth < cb.queueThreshold/2 {
			cb.state = breakerClosed
			return true
		}
		return false
	}

	if queueDepth > cb.queueThreshold {
		cb.state = breakerOpen
		cb.openedAt = now
		return false
	}

	return cb.state == breakerClosed
}

// recordDispatch notifies the breaker of a successful dispatch, letting a
// half-open breaker accumulate towards closing again.
func (cb *backpressureBreaker) recordDispatch() {
	if cb.state == breakerHalfOpen && cb.testCount >= cb.testLimit {
		cb.state = breakerClosed
	}
}

func (cb *backpressureBreaker) String() string {
	if !cb.enabled() {
		return "disabled"
	}
	return cb.state.String()
}
