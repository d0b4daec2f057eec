// Package proc implements task and thread-group lifecycle: fork, clone,
// exec, exit, exit_group and wait4. A Task is POSIX's thread: several
// Tasks can share one ThreadGroup (address space, open file table, signal
// disposition) the way clone(CLONE_VM|CLONE_FILES|CLONE_SIGHAND) tasks do
// in Linux, while fork without those flags creates both a new Task and a
// new ThreadGroup.
package proc

import (
	"sync"
	"sync/atomic"

	"riscix/internal/accnt"
	"riscix/internal/errno"
	"riscix/internal/fd"
	"riscix/internal/limits"
	"riscix/internal/vm"
)

// State is a task's scheduling/lifecycle state.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateBlocked
	StateZombie
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// SchedClass selects which scheduling discipline a task runs under.
type SchedClass int

const (
	ClassIdle SchedClass = iota
	ClassCFS
	ClassRT
)

// ThreadGroup is the POSIX process: the address space, file descriptor
// table reference count, and signal disposition shared by every clone
// thread in the group. Tasks reference their group by pointer; the group
// itself is destroyed (its address space torn down) only once its
// refcount reaches zero in the last Exit.
type ThreadGroup struct {
	mu sync.Mutex

	Pid    int
	AS     *vm.AddressSpace
	refs   int
	Parent *ThreadGroup

	children   map[int]*ThreadGroup
	zombies    []*ThreadGroup
	zombieCond *sync.Cond

	exited     bool
	exitStatus int

	// Files is this thread group's open file descriptor table, shared by
	// every clone thread exactly as CLONE_FILES requires. Cwd is the
	// matching current-working-directory tracker; it is nil until
	// whatever mounts the root filesystem (boot, for the init task) sets
	// it, since proc has no filesystem of its own to root it in.
	Files *fd.Table
	Cwd   *fd.Cwd

	accnt accnt.Accnt_t
}

// NotRunningCPU is the sentinel RunningOnCPU holds for a task that is
// queued or blocked: owned by no hart. Any non-negative value is a hart
// id.
const NotRunningCPU int32 = -1

// Task is one schedulable thread of execution.
type Task struct {
	mu sync.Mutex

	Tid   int
	Group *ThreadGroup

	State  State
	Killed bool
	Doomed bool

	Class      SchedClass
	Nice       int
	RTPriority int
	VRuntime   int64
	SliceLeft  int64 // nanoseconds remaining in the current scheduling quantum

	// runningOnCPU and onCPU are the pair of atomic flags that are the
	// only safe substitute for a stop-the-world scheduler lock across
	// CPUs. runningOnCPU is modified only via CAS: the transition
	// NotRunningCPU -> hart id is the sole licence to execute this task,
	// and hart id -> NotRunningCPU must happen before the task is
	// enqueued anywhere else again. onCPU is the in-switch barrier: true
	// from the moment a hart commits to running the task until it has
	// finished publishing it back out. A peer hart must observe onCPU
	// false (acquire) before it may CAS runningOnCPU for this task —
	// conflating the two or skipping the spin is what causes
	// double-execution under load.
	runningOnCPU int32
	onCPU        int32

	// LastCPU records which hart most recently ran this task, for
	// wake-up affinity. Only the hart that currently owns the task
	// (onCPU true) may write it.
	LastCPU int

	killCh chan struct{}
	waitCh chan struct{} // closed when this task transitions to StateZombie/StateDead

	ExitCode int
}

// ResetSchedAtomics sets a task's CAS-owned scheduling fields to their
// just-created state: owned by no hart, not mid-switch. Every
// constructor in this package calls it; a Task literal built outside
// proc's own lifecycle constructors (idle tasks, tests) must call it
// once before the task is ever enqueued, since the zero value of
// runningOnCPU (0) would otherwise be mistaken for "owned by hart 0".
func (tk *Task) ResetSchedAtomics() {
	atomic.StoreInt32(&tk.runningOnCPU, NotRunningCPU)
	atomic.StoreInt32(&tk.onCPU, 0)
}

// RunningOnCPU returns the hart id that currently owns this task for
// execution, or NotRunningCPU if it is queued or blocked.
func (tk *Task) RunningOnCPU() int32 {
	return atomic.LoadInt32(&tk.runningOnCPU)
}

// CASRunningOnCPU attempts the owning-hart handoff, succeeding only if
// the task's current owner is old. Callers dispatching a task CAS from
// NotRunningCPU to their own hart id; a failed CAS there means two
// harts raced to run the same task — a double-run, and fatal.
func (tk *Task) CASRunningOnCPU(old, new int32) bool {
	return atomic.CompareAndSwapInt32(&tk.runningOnCPU, old, new)
}

// PublishIdle releases ownership of the task back to NotRunningCPU, the
// dispatcher's step once a task has been fully switched out and is
// ready to be enqueued again.
func (tk *Task) PublishIdle() {
	atomic.StoreInt32(&tk.runningOnCPU, NotRunningCPU)
}

// OnCPU reports whether a hart is still mid-switch with this task. A
// peer hart must spin until this observes false before touching the
// task again.
func (tk *Task) OnCPU() bool {
	return atomic.LoadInt32(&tk.onCPU) != 0
}

// SetOnCPU sets the in-switch barrier. Setting it false is the release
// half of the on_cpu happens-before edge work stealing depends on, and
// is what lets a peer's claim stop spinning and pick the task up again
// once it is re-enqueued; setting it true (with the hart id already
// CAS'd into RunningOnCPU) marks the task mid-switch, so a peer's claim
// spins until it is cleared.
func (tk *Task) SetOnCPU(v bool) {
	var n int32
	if v {
		n = 1
	}
	atomic.StoreInt32(&tk.onCPU, n)
}

// Table is the system-wide task registry: a plain map guarded by a
// mutex, since task churn (not lookup volume) dominates and a sharded
// structure would only add complexity lookup patterns here don't need.
type Table struct {
	mu    sync.Mutex
	tasks map[int]*Task
	next  int
}

// NewTable creates an empty task table.
func NewTable() *Table {
	return &Table{tasks: map[int]*Task{}, next: 1}
}

func (t *Table) allocTid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tid := t.next
	t.next++
	return tid
}

// Lookup returns the task with the given tid.
func (t *Table) Lookup(tid int) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[tid]
	return tk, ok
}

func (t *Table) insert(tk *Task) {
	t.mu.Lock()
	t.tasks[tk.Tid] = tk
	t.mu.Unlock()
}

func (t *Table) remove(tid int) {
	t.mu.Lock()
	delete(t.tasks, tid)
	t.mu.Unlock()
}

// newThreadGroup allocates a ThreadGroup with its bookkeeping maps and
// zombie-wait condition variable ready to use.
func newThreadGroup(pid int, as *vm.AddressSpace, parent *ThreadGroup) *ThreadGroup {
	grp := &ThreadGroup{
		Pid:      pid,
		AS:       as,
		refs:     1,
		Parent:   parent,
		children: map[int]*ThreadGroup{},
		Files:    fd.NewTable(),
	}
	grp.zombieCond = sync.NewCond(&grp.mu)
	return grp
}

// NewInit creates the first task: its own thread group, a bare address
// space, and no parent. Every other task is descended from it via Fork.
func (t *Table) NewInit(as *vm.AddressSpace) (*Task, errno.Err_t) {
	if !limits.Syslimit.Tasks.Take() {
		return nil, errno.ENOMEM
	}
	grp := newThreadGroup(t.allocTid(), as, nil)
	tk := &Task{
		Tid:    grp.Pid,
		Group:  grp,
		State:  StateRunnable,
		Class:  ClassCFS,
		killCh: make(chan struct{}),
		waitCh: make(chan struct{}),
	}
	tk.ResetSchedAtomics()
	t.insert(tk)
	return tk, 0
}

// IsDoomed reports whether the task has been marked for forced termination,
// the signal-delivery/OOM-kill path's flag distinct from a graceful exit.
func (tk *Task) IsDoomed() bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.Doomed
}

// MarkDoomed sets the doomed flag and signals the kill channel so a
// blocked task (futex wait, pipe read, wait4) wakes and observes it.
func (tk *Task) MarkDoomed() {
	tk.mu.Lock()
	if !tk.Doomed {
		tk.Doomed = true
		close(tk.killCh)
	}
	tk.mu.Unlock()
}

// KillChan returns the channel that closes when MarkDoomed is called,
// for select alongside a blocking operation's own wake channel.
func (tk *Task) KillChan() <-chan struct{} { return tk.killCh }

// MarkBlocked records that the task has parked itself on some wait
// condition outside the scheduler's run queue (futex, timer, wait4); the
// syscall layer calls this before returning syscall.Blocked.
func (tk *Task) MarkBlocked() {
	tk.mu.Lock()
	if tk.State != StateZombie && tk.State != StateDead {
		tk.State = StateBlocked
	}
	tk.mu.Unlock()
}

// MarkRunnable clears a blocked task's state back to runnable, called
// when whatever it was waiting on fires and it is handed back to the
// scheduler.
func (tk *Task) MarkRunnable() {
	tk.mu.Lock()
	if tk.State != StateZombie && tk.State != StateDead {
		tk.State = StateRunnable
	}
	tk.mu.Unlock()
}

// AddressSpace returns the thread group's current address space. Reads
// under the group's lock since Exec swaps this pointer out from under
// any other live thread sharing the group.
func (g *ThreadGroup) AddressSpace() *vm.AddressSpace {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.AS
}
