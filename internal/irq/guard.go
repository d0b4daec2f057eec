// Package irq provides the scoped interrupt-disable guard the rest of the
// kernel uses whenever it holds a runqueue or task-inner lock: an explicit
// "is this lock actually held" assertion, not just a bare mutex, so that
// lock-ordering bugs panic close to the call site that violated the
// discipline instead of deadlocking silently.
package irq

import (
	"sync/atomic"
)

// harts tracks whether interrupts are (conceptually) enabled on the
// calling hart. A real bare-metal kernel would toggle a CSR/PSR bit; hosted
// under go test there is no such bit, so this is a per-hart simulated flag
// indexed by arch.HartID, guarded by atomics so concurrent harts never
// observe a torn read.
var harts [256]int32

// Save disables interrupts on the current hart (identified by id) and
// returns a Guard capturing the previous enable state. Restore on every
// exit path, including panic, by deferring Guard.Release.
func Save(id int) Guard {
	prev := atomic.SwapInt32(&harts[id], 0)
	return Guard{id: id, prevEnabled: prev != 0}
}

// Guard is a scoped record of a hart's previous interrupt-enable state.
type Guard struct {
	id          int
	prevEnabled bool
	released    bool
}

// Release restores the hart's previous interrupt-enable state. It is safe
// to call multiple times; only the first call has effect, so deferring
// Release after an explicit early release on a fast path is harmless.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	if g.prevEnabled {
		atomic.StoreInt32(&harts[g.id], 1)
	}
}

// Enabled reports whether interrupts are currently enabled on hart id.
func Enabled(id int) bool {
	return atomic.LoadInt32(&harts[id]) != 0
}

// Enable marks interrupts as enabled on hart id. Used only at boot, after
// that hart's per-CPU trap/timer setup completes.
func Enable(id int) {
	atomic.StoreInt32(&harts[id], 1)
}

// MustBeDisabled panics if interrupts are enabled on hart id. Used as an
// assertion at entry to runqueue-lock-holding code paths, the same role
// AddressSpace.LockassertPmap plays for the address-space mutex.
func MustBeDisabled(id int) {
	if Enabled(id) {
		panic("irq: interrupts must be disabled here")
	}
}
