// Package res tracks a global, non-blocking budget of ephemeral kernel
// heap available to user-access loops (vm.Userdmap8_inner and friends).
// Those loops run with the address-space lock held and therefore must
// never block; instead they debit this budget once per iteration and
// fail with ENOHEAP when it runs dry, the same way the teacher's
// k2user/user2k copy loops do.
package res

import "sync/atomic"

import "github.com/HelenOS/helenos-sub030/bounds"

// budget is the remaining ephemeral-heap allowance, in bytes.
var budget int64

// Reset sets the global budget. Called once at boot with a size derived
// from limits.Syslimit.
func Reset(bytes int64) {
	atomic.StoreInt64(&budget, bytes)
}

// Resadd_noblock debits b's cost from the global budget without blocking.
// It returns false when the budget is exhausted, in which case the caller
// must abort its loop with -defs.ENOHEAP rather than wait.
func Resadd_noblock(b bounds.Bound_t) bool {
	n := int64(b.Cost())
	if atomic.AddInt64(&budget, -n) >= 0 {
		return true
	}
	atomic.AddInt64(&budget, n)
	return false
}

// Give returns n bytes to the budget, e.g. when a loop's iteration count
// was overestimated.
func Give(n int64) {
	atomic.AddInt64(&budget, n)
}

// Remaining reports the current budget, for diagnostics and tests.
func Remaining() int64 {
	return atomic.LoadInt64(&budget)
}
