// Package budget meters cooperative drain loops so that a single busy stream
// cannot monopolize its goroutine's scheduling slot.
package budget

import "time"

// DefaultRequestsBudget bounds a single drain of the peer request stream.
const DefaultRequestsBudget = 10 * time.Millisecond

// Drain repeatedly invokes next until it reports that nothing is ready, or the
// elapsed time passes the given budget. It returns true when the stream was
// exhausted and false when the budget ran out first. The accounting is purely
// time based: a zero or negative budget still attempts a single next.
func Drain(budget time.Duration, next func() bool) (exhausted bool) {
	start := time.Now()
	for next() {
		if time.Since(start) > budget {
			return false
		}
	}
	return true
}
