package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"riscix/internal/config"
	"riscix/internal/proc"
)

// Transition reports what happened to a task after Executor.Dispatch
// returns control to the scheduler.
type Transition int

const (
	// Runnable means the task's quantum expired, or it voluntarily
	// yielded, while still wanting to run again.
	Runnable Transition = iota
	// Blocked means the task parked itself on some wait condition
	// (futex, I/O, wait4) and will be re-enqueued by whatever wakes it,
	// not by the dispatcher loop.
	Blocked
	// Exited means the task ran its exit path and should be dropped
	// from scheduling entirely.
	Exited
)

// Executor actually runs a task for up to the given timeslice, returning
// how long it ran and what happened. internal/trap provides the real
// implementation (trap entry/exit around the task's saved register
// state); keeping this as an interface lets sched be built and tested
// without a working trap/syscall layer.
type Executor interface {
	Dispatch(tk *proc.Task, slice time.Duration) (ran time.Duration, t Transition)
}

// cpuState is one hart's scheduling state: its run queue, a count of
// consecutive empty picks (which throttles how aggressively this CPU
// goes looking for work to steal), and the task pending publication
// from its previous switch.
type cpuState struct {
	id     int
	rq     *RunQueue
	idleTk *proc.Task
	misses int32

	// pending is the task this CPU dispatched last time around the
	// loop, held here until the top of the next iteration so that
	// publishing it (clearing RunningOnCPU/OnCPU and re-enqueuing per
	// its transition) happens as its own distinct step, matching a real
	// switch_to whose previous-task cleanup runs after control has
	// already returned to the scheduler.
	pending      *proc.Task
	pendingTrans Transition
}

// Scheduler owns every CPU's run queue and the dispatcher loop that
// drives each one. One Scheduler per machine; the hart count is fixed
// at construction.
type Scheduler struct {
	exec Executor
	cpus []*cpuState

	mu       sync.Mutex
	lastSeen map[int]int // tid -> cpu id it last ran on, for wake-up affinity
}

// New creates a scheduler for n harts, each initially idling on its own
// idle task. exec supplies the actual task-execution hook.
func New(n int, idleTasks []*proc.Task, exec Executor) *Scheduler {
	s := &Scheduler{exec: exec, lastSeen: map[int]int{}}
	for i := 0; i < n; i++ {
		var idle *proc.Task
		if i < len(idleTasks) {
			idle = idleTasks[i]
		}
		s.cpus = append(s.cpus, &cpuState{id: i, rq: NewRunQueue(idle), idleTk: idle})
	}
	return s
}

// NumCPU reports how many harts this scheduler drives.
func (s *Scheduler) NumCPU() int { return len(s.cpus) }

// Enqueue places tk on a CPU's run queue, preferring the hart it last
// ran on (cache-warm affinity) unless that hart has more than one
// runnable task more than the least-loaded hart, which is then chosen.
func (s *Scheduler) Enqueue(tk *proc.Task) {
	target := s.pickCPUFor(tk)
	s.cpus[target].rq.Enqueue(tk)
}

// pickCPUFor may run on behalf of any CPU (a wake-up can be driven by
// whichever hart's dispatch loop observes the wait condition fire), so
// every other CPU's run queue here is a peer queue: load is sampled
// with TryLen, never a blocking Len, per the try-lock-across-CPU-
// boundaries rule. A contended peer is simply skipped for this round;
// its load will be sampled again next time something is enqueued.
func (s *Scheduler) pickCPUFor(tk *proc.Task) int {
	s.mu.Lock()
	affine, hasAffinity := s.lastSeen[tk.Tid]
	s.mu.Unlock()

	least := 0
	leastLen := -1
	for i := 0; i < len(s.cpus); i++ {
		l, ok := s.cpus[i].rq.TryLen()
		if !ok {
			continue
		}
		if leastLen == -1 || l < leastLen {
			least, leastLen = i, l
		}
	}
	if leastLen == -1 {
		// Every peer queue was contended; fall back to whatever CPU
		// this task last ran on, or CPU0 if it has none.
		if hasAffinity && affine < len(s.cpus) {
			return affine
		}
		return 0
	}
	if hasAffinity && affine < len(s.cpus) {
		// Stick with the warm CPU unless it is carrying meaningfully
		// more load than the idlest one.
		if affineLen, ok := s.cpus[affine].rq.TryLen(); ok && affineLen <= leastLen+1 {
			return affine
		}
	}
	return least
}

// Run starts one dispatcher goroutine per CPU and blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, cpu := range s.cpus {
		wg.Add(1)
		go func(cpu *cpuState) {
			defer wg.Done()
			s.dispatchLoop(ctx, cpu)
		}(cpu)
	}
	wg.Wait()
}

func (s *Scheduler) dispatchLoop(ctx context.Context, cpu *cpuState) {
	for {
		select {
		case <-ctx.Done():
			if cpu.pending != nil {
				s.publish(cpu)
			}
			return
		default:
		}

		// Step 2: publish whatever this CPU switched out of last time,
		// now that we are back around the loop.
		if cpu.pending != nil {
			s.publish(cpu)
		}

		tk := cpu.rq.PickNext()
		if tk == nil || tk == cpu.idleTk {
			if stolen, ok := s.tryStealInto(cpu); ok {
				tk = stolen
			} else {
				atomic.AddInt32(&cpu.misses, 1)
				time.Sleep(idleBackoff(cpu))
				continue
			}
		}
		atomic.StoreInt32(&cpu.misses, 0)

		// Past this point tk is always a real task: the branch above
		// only falls through (rather than continuing the loop) once it
		// has replaced a nil/idle pick with a genuine stolen task, or
		// the original pick was already non-idle. Idle tasks never
		// reach claim/publish: they are a fixed per-CPU fallback, never
		// queued, stolen, or raced over, so there is no owning-hart
		// protocol to run for them.
		s.claim(cpu, tk)

		s.mu.Lock()
		s.lastSeen[tk.Tid] = cpu.id
		s.mu.Unlock()

		slice := sliceFor(tk, cpu.rq)
		ran, trans := s.exec.Dispatch(tk, slice)

		if tk.Class == proc.ClassCFS && trans == Runnable {
			tk.VRuntime += vruntimeDelta(ran.Nanoseconds(), tk.Nice)
		}

		cpu.pending = tk
		cpu.pendingTrans = trans
	}
}

// claim performs steps 4-5 of dispatch: spin until the task's in-switch
// barrier clears (the previous owning hart, if any, has finished
// publishing it), CAS ownership from NotRunningCPU to this hart, then
// stamp this hart as the task's last-known owner and raise its own
// barrier before Dispatch is allowed to touch it. A task only ever
// reaches here straight off this CPU's own run queue (already
// published NotRunningCPU by construction — nothing enqueues a task
// that isn't) or out of StealOne, which only hands back tasks already
// observed at NotRunningCPU; either way the CAS is expected to succeed,
// and its failure means two harts are racing to run the same task.
func (s *Scheduler) claim(cpu *cpuState, tk *proc.Task) {
	for tk.OnCPU() {
		// The previous hart has not finished switching this task out
		// yet; this is the spin the on_cpu barrier exists for.
	}
	if !tk.CASRunningOnCPU(proc.NotRunningCPU, int32(cpu.id)) {
		panic(fmt.Sprintf("riscix: double-run: tid %d already owned when cpu %d tried to claim it", tk.Tid, cpu.id))
	}
	tk.LastCPU = cpu.id
	tk.SetOnCPU(true)
}

// publish implements step 2 for the task cpu dispatched last time
// around the loop: release this hart's ownership (RunningOnCPU back to
// NotRunningCPU, then OnCPU false as the release half of the
// happens-before edge a peer's claim spins on) and file the task
// wherever its post-dispatch transition calls for.
func (s *Scheduler) publish(cpu *cpuState) {
	tk := cpu.pending
	trans := cpu.pendingTrans
	cpu.pending = nil

	tk.PublishIdle()
	tk.SetOnCPU(false)

	switch trans {
	case Runnable:
		cpu.rq.Enqueue(tk)
	case Blocked:
		// The wait primitive that parked tk owns re-enqueuing it on
		// wake; nothing to do here.
	case Exited:
		// Dropped from scheduling entirely.
	}
}

// tryStealInto looks for a CFS task to migrate onto cpu from the most
// loaded other CPU, the simplest work-stealing policy that still avoids
// thundering-herd stealing from the same donor every time. Every other
// CPU here is a peer: donor load is sampled with TryLen and the actual
// removal goes through StealOne's own try-lock, so this path can never
// block cpu's dispatch loop on a peer's run queue lock — a contended
// peer is just skipped as a candidate this round.
func (s *Scheduler) tryStealInto(cpu *cpuState) (*proc.Task, bool) {
	var donor *cpuState
	best := 1 // steal only if the donor has at least 2 runnable tasks
	for _, other := range s.cpus {
		if other == cpu {
			continue
		}
		l, ok := other.rq.TryLen()
		if !ok {
			continue
		}
		if l > best {
			best, donor = l, other
		}
	}
	if donor == nil {
		return nil, false
	}
	return donor.rq.StealOne()
}

// sliceFor returns the timeslice a task should run for: a fixed
// round-robin slice for RT tasks, and for everyone else CFS's share of
// the target latency in proportion to tk's weight against the total
// weight of tk plus the CFS tasks still queued on rq, floored at the
// minimum granularity.
func sliceFor(tk *proc.Task, rq *RunQueue) time.Duration {
	if tk.Class == proc.ClassRT {
		return config.RRSlice
	}
	w := weightFor(tk.Nice)
	total := w
	rq.mu.Lock()
	for _, q := range rq.cfs {
		total += weightFor(q.Nice)
	}
	rq.mu.Unlock()
	slice := time.Duration(int64(config.TargetLatency) * w / total)
	if slice < config.MinGranularity {
		slice = config.MinGranularity
	}
	return slice
}

// idleBackoff returns how long a CPU with nothing to run and nothing to
// steal should sleep before checking again, growing briefly with
// consecutive misses to avoid busy-spinning an idle machine.
func idleBackoff(cpu *cpuState) time.Duration {
	n := atomic.LoadInt32(&cpu.misses)
	d := time.Duration(n) * 50 * time.Microsecond
	if d > 2*time.Millisecond {
		d = 2 * time.Millisecond
	}
	return d
}
