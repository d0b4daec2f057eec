// Package sched implements the SMP scheduler: per-CPU run queues holding
// three scheduling classes (RT, CFS, Idle), a dispatcher loop per CPU,
// work stealing when a CPU's queue runs dry, and wake-up placement.
package sched

import (
	"container/heap"
	"sync"

	"riscix/internal/config"
	"riscix/internal/proc"
)

// cfsHeap orders runnable CFS tasks by VRuntime: the task that has
// accrued the least virtual runtime is always at the root, so PickNext
// is O(log n) instead of the O(n) scan a plain slice would need.
type cfsHeap []*proc.Task

func (h cfsHeap) Len() int            { return len(h) }
func (h cfsHeap) Less(i, j int) bool  { return h[i].VRuntime < h[j].VRuntime }
func (h cfsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cfsHeap) Push(x interface{}) { *h = append(*h, x.(*proc.Task)) }
func (h *cfsHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// RunQueue holds every runnable task assigned to one CPU, split by
// scheduling class. RT always preempts CFS; CFS always preempts Idle.
type RunQueue struct {
	mu sync.Mutex

	// rt is indexed by RT priority (1..RTPriorityMax); each slot is a
	// FIFO of tasks at that priority, the classic O(1) priority-array
	// runqueue shape.
	rt [config.RTPriorityLevels][]*proc.Task
	rtCount int

	cfs cfsHeap

	idle *proc.Task
}

// NewRunQueue creates an empty run queue, optionally seeded with the
// per-CPU idle task that PickNext falls back to when nothing else is
// runnable.
func NewRunQueue(idleTask *proc.Task) *RunQueue {
	rq := &RunQueue{idle: idleTask}
	heap.Init(&rq.cfs)
	return rq
}

// Enqueue makes tk runnable on this queue, filed under its scheduling
// class.
func (rq *RunQueue) Enqueue(tk *proc.Task) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.enqueueLocked(tk)
}

func (rq *RunQueue) enqueueLocked(tk *proc.Task) {
	switch tk.Class {
	case proc.ClassRT:
		p := clampRTPriority(tk.RTPriority)
		rq.rt[p] = append(rq.rt[p], tk)
		rq.rtCount++
	case proc.ClassCFS:
		heap.Push(&rq.cfs, tk)
	default:
		// Idle class tasks are never queued; PickNext falls back to the
		// queue's dedicated idle task when nothing else is runnable.
	}
}

func clampRTPriority(p int) int {
	if p < config.RTPriorityMin {
		return config.RTPriorityMin
	}
	if p > config.RTPriorityMax {
		return config.RTPriorityMax
	}
	return p
}

// PickNext removes and returns the highest-priority runnable task: the
// highest non-empty RT priority level first, then the lowest-VRuntime
// CFS task, then the idle task as a last resort (never removed from the
// queue, so it is always available again next call).
func (rq *RunQueue) PickNext() *proc.Task {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.rtCount > 0 {
		for p := config.RTPriorityMax; p >= config.RTPriorityMin; p-- {
			q := rq.rt[p]
			if len(q) == 0 {
				continue
			}
			tk := q[0]
			rq.rt[p] = q[1:]
			rq.rtCount--
			return tk
		}
	}
	if rq.cfs.Len() > 0 {
		return heap.Pop(&rq.cfs).(*proc.Task)
	}
	return rq.idle
}

// Len reports the number of runnable tasks (excluding the idle
// fallback). Only safe to call from the CPU that owns this queue, or
// from a caller that is otherwise certain no peer CPU holds the lock
// (tests, single-threaded setup); any cross-CPU load query must go
// through TryLen instead.
func (rq *RunQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.rtCount + rq.cfs.Len()
}

// TryLen reports the number of runnable tasks without blocking, for
// cross-CPU load queries (donor selection for work stealing, wake-up
// placement) that must never wait on a peer CPU's run queue lock per
// the try-lock-across-CPU-boundaries rule. ok is false if the lock was
// contended; callers must treat that as "load unknown", not zero.
func (rq *RunQueue) TryLen() (n int, ok bool) {
	if !rq.mu.TryLock() {
		return 0, false
	}
	defer rq.mu.Unlock()
	return rq.rtCount + rq.cfs.Len(), true
}

// StealOne removes and returns one task suitable for migration to an
// idle CPU: the CFS task with the greatest VRuntime (least urgent to
// keep running locally), since stealing the most time-starved task
// would just move the imbalance rather than fix it. RT tasks are never
// stolen: RT priority is meaningless across CPUs without a real-time
// load-balancer, out of scope here.
//
// Always called on a peer CPU's queue, so the lock is a try-lock: a
// contended donor just means "no-op, try another donor or back off",
// never a block that could wedge the calling CPU's own dispatch loop
// against a peer's runqueue lock.
func (rq *RunQueue) StealOne() (*proc.Task, bool) {
	if !rq.mu.TryLock() {
		return nil, false
	}
	defer rq.mu.Unlock()
	if rq.cfs.Len() < 2 {
		// Never steal the last runnable task: a CPU that emptied its
		// own queue shouldn't immediately starve a neighbor that has
		// exactly one thing to do.
		return nil, false
	}
	worst := -1
	for i := 0; i < rq.cfs.Len(); i++ {
		// A task sitting in this queue must already be at
		// NotRunningCPU — nothing enqueues a task that isn't — but the
		// steal candidate is re-checked against it explicitly anyway,
		// since that is one of the steal preconditions, not just an
		// enqueue invariant.
		if rq.cfs[i].RunningOnCPU() != proc.NotRunningCPU {
			continue
		}
		if worst == -1 || rq.cfs[i].VRuntime > rq.cfs[worst].VRuntime {
			worst = i
		}
	}
	if worst == -1 {
		return nil, false
	}
	tk := rq.cfs[worst]
	heap.Remove(&rq.cfs, worst)
	return tk, true
}
