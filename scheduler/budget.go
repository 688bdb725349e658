package scheduler

import "time"

// budgetAccountant tracks three quantities: a token bucket for
// rate-limited API calls, and two reservation counters for instantaneous
// compute/memory usage.
//
// All fields are accessed only while the owning Scheduler's lock is held;
// this type has no internal locking of its own; it is not a separately
// synchronized component.
type budgetAccountant struct {
	budget ResourceBudget

	apiTokens   float64
	lastRefill  time.Time
	usedCompute float64
	usedMemory  float64

	totalAPICalls     float64
	totalComputeUnits float64
	totalMemoryMB     float64
}

func newBudgetAccountant(budget ResourceBudget, now time.Time) *budgetAccountant {
	return &budgetAccountant{
		budget:     budget,
		apiTokens:  float64(budget.APICallsPerMinute),
		lastRefill: now,
	}
}

// canAfford is the admission predicate: true iff all three dimensions
// have headroom for cost.
func (b *budgetAccountant) canAfford(cost TaskCost) bool {
	if b.apiTokens < float64(cost.APICalls) {
		return false
	}
	if b.usedCompute+cost.ComputeUnits > b.budget.ComputeUnits {
		return false
	}
	if float64(b.usedMemory)+float64(cost.MemoryMB) > float64(b.budget.MemoryMB) {
		return false
	}
	return true
}

// reserve consumes the cost's tokens/reservations. Must only be called
// once canAfford has been checked under the same lock acquisition, so the
// check and the reservation are evaluated atomically.
func (b *budgetAccountant) reserve(cost TaskCost) {
	b.apiTokens -= float64(cost.APICalls)
	b.usedCompute += cost.ComputeUnits
	b.usedMemory += float64(cost.MemoryMB)

	b.totalAPICalls += float64(cost.APICalls)
	b.totalComputeUnits += cost.ComputeUnits
	b.totalMemoryMB += float64(cost.MemoryMB)
}

// release returns a completed or failed task's compute/memory
// reservation. API tokens are never refunded: they model an
// irreversibly consumed external rate.
func (b *budgetAccountant) release(cost TaskCost) {
	b.usedCompute -= cost.ComputeUnits
	b.usedMemory -= float64(cost.MemoryMB)
}

// refill adds tokens proportional to elapsed wall-clock time, capped at
// the bucket's capacity.
func (b *budgetAccountant) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(b.budget.APICallsPerMinute) / 60.0
	b.apiTokens += rate * elapsed
	if cap := float64(b.budget.APICallsPerMinute); b.apiTokens > cap {
		b.apiTokens = cap
	}
	b.lastRefill = now
}

// usage returns the live reservation snapshot. APICalls is always 0: API
// call consumption is tracked only in the token bucket (apiTokens) and in
// cumulative totalSpent, not as an instantaneous reservation; there is
// nothing to "release" for an API call the way there is for compute/memory.
func (b *budgetAccountant) usage() ResourceUsage {
	return ResourceUsage{
		APICalls:     0,
		ComputeUnits: b.usedCompute,
		MemoryMB:     b.usedMemory,
	}
}

func (b *budgetAccountant) totalSpent() ResourceUsage {
	return ResourceUsage{
		APICalls:     b.totalAPICalls,
		ComputeUnits: b.totalComputeUnits,
		MemoryMB:     b.totalMemoryMB,
	}
}
