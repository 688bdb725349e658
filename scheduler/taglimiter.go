package scheduler

import (
	"golang.org/x/time/rate"
)

// categoryLimiter is an optional secondary rate limit: a per-tag token
// bucket sitting beneath the scheduler's global budget, for callers
// sharing one scheduler instance across several tenants/categories.
// Disabled (nil) by default.
//
// Lazily creates one golang.org/x/time/rate.Limiter per key. Consulted
// under the same scheduler lock as everything else, so it needs no mutex
// of its own.
type categoryLimiter struct {
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newCategoryLimiter(ratePerSecond float64, burst int) *categoryLimiter {
	return &categoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSecond),
		b:        burst,
	}
}

// allow reports whether the given category may admit one more task right
// now. An empty tag always passes: category limiting only applies to
// tasks that opt in by setting TaskCost.Tag.
func (c *categoryLimiter) allow(tag string) bool {
	if c == nil || tag == "" {
		return true
	}
	l, ok := c.limiters[tag]
	if !ok {
		l = rate.NewLimiter(c.r, c.b)
		c.limiters[tag] = l
	}
	return l.Allow()
}

// tokens reports the current estimate of available tokens for a category,
// for introspection in GetMetrics. Categories never seen return the full
// burst since no limiter has been created for them yet.
func (c *categoryLimiter) tokens(tag string) float64 {
	if c == nil {
		return 0
	}
	l, ok := c.limiters[tag]
	if !ok {
		return float64(c.b)
	}
	return l.Tokens()
}

// wouldAdmit peeks whether the category currently has at least one token,
// without consuming it. Schedule uses this ahead of admission so a
// RejectIfNoBudget submission can be turned away without also draining
// the bucket that selectNext will check (and actually consume) at
// dispatch time.
func (c *categoryLimiter) wouldAdmit(tag string) bool {
	if c == nil || tag == "" {
		return true
	}
	return c.tokens(tag) >= 1
}

// snapshot returns the current token balance for every category observed
// so far, for GetMetrics. A nil receiver or disabled limiter returns nil.
func (c *categoryLimiter) snapshot() map[string]float64 {
	if c == nil || len(c.limiters) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.limiters))
	for tag, l := range c.limiters {
		out[tag] = l.Tokens()
	}
	return out
}
