// Package spin provides the bounded-yield spinning primitives every lock
// in this module uses instead of blocking on an OS primitive (spec.md §5:
// "Native OS threads... threads spin with bounded yielding"). The pattern
// is the teacher's inline `for atomic.Load(...) { runtime.Gosched() }`
// loops (mcsww, and originally github.com/ahrav/go-locks's mcs/alock/
// ticket packages) generalized into a reusable helper, with the
// yield-every-N-iterations backoff from
// other_examples/lrita-spinlock__spinlock.go instead of yielding on every
// failed check.
package spin

import "runtime"

// yieldMask selects a yield roughly every 1<<24 (~16M) failed checks, per
// spec.md §5's "coarse-grained yield every ~16M failed checks on x86".
const yieldMask = 1<<24 - 1

// Until blocks the calling goroutine until cond reports true, yielding to
// the Go scheduler periodically instead of spinning it into the ground.
func Until(cond func() bool) {
	var spins uint64
	for !cond() {
		spins++
		if spins&yieldMask == 0 {
			runtime.Gosched()
		}
	}
}

// Budget is a spin-count-style timeout (spec.md §5: "not a wall clock, to
// avoid syscalls on fast paths"). Never means an unconditional wait, Zero
// means check once and give up immediately, and any positive value is a
// spin budget measured in failed condition checks.
type Budget int32

const (
	// Never waits with no timeout at all.
	Never Budget = -1
	// Zero checks the condition once and returns without waiting.
	Zero Budget = 0
)

// UntilBudget spins on cond until it returns true or the budget is
// exhausted. It reports whether cond became true.
func UntilBudget(cond func() bool, budget Budget) bool {
	if budget == Never {
		Until(cond)
		return true
	}
	if cond() {
		return true
	}
	if budget == Zero {
		return false
	}
	var spins uint64
	for i := Budget(0); i < budget; i++ {
		if cond() {
			return true
		}
		spins++
		if spins&yieldMask == 0 {
			runtime.Gosched()
		}
	}
	return false
}
