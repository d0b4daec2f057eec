package syscall

import (
	"time"

	"riscix/internal/errno"
	"riscix/internal/proc"
	"riscix/internal/signal"
	"riscix/internal/vm"
)

func ok(ret uintptr) (uintptr, errno.Err_t, Outcome) { return ret, 0, Continue }

func fail(e errno.Err_t) (uintptr, errno.Err_t, Outcome) {
	return uintptr(e.Errno()), e, Continue
}

func sysGetpid(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	return ok(uintptr(c.Task.Group.Pid))
}

func sysGettid(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	return ok(uintptr(c.Task.Tid))
}

// sysClone implements clone(2): with CLONE_VM set it creates a thread
// sharing the caller's address space (proc.Table.Clone); without it, it
// behaves like fork(2) (proc.Table.Fork). Either way the new task is
// handed to the scheduler before returning its tid to the caller.
func sysClone(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	flags := a.Uintptr(0)
	var child *proc.Task
	var err errno.Err_t
	sameGroup := flags&CloneVM != 0
	if sameGroup {
		child, err = c.Tasks.Clone(c.Task)
	} else {
		child, err = c.Tasks.Fork(c.Task)
	}
	if err != 0 {
		return fail(err)
	}
	registerChild(c, child, sameGroup)
	c.Sched.Enqueue(child)
	return ok(uintptr(child.Tid))
}

// registerChild installs the new task's signal bookkeeping in the
// registry: a clone (same thread group) shares the parent's disposition
// table and starts with an empty pending mask; a fork copies the
// disposition table (POSIX fork semantics) into a new one for the child's
// own thread group.
func registerChild(c *Context, child *proc.Task, sameGroup bool) {
	c.Signals.RegisterTask(child.Tid, &signal.Mask{})
	if sameGroup {
		return
	}
	parentTbl, ok := c.Signals.Table(c.Task.Group.Pid)
	if !ok {
		parentTbl = signal.NewTable()
	}
	c.Signals.RegisterGroup(child.Group.Pid, parentTbl.Fork())
}

func sysExecve(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	entry, err := c.Tasks.Exec(c.Task, c.Arch, c.Loader)
	if err != 0 {
		return fail(err)
	}
	if tbl, ok := c.Signals.Table(c.Task.Group.Pid); ok {
		tbl.ResetOnExec()
	}
	// Non-standard ABI note: execve never returns to its caller on
	// success in POSIX, so the entry point is handed back here in place
	// of a return value. internal/trap's Dispatcher discards syscall
	// return values and does not install it as the resumed program
	// counter.
	return entry, 0, Continue
}

func sysExit(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	status := a.Int(0)
	c.Tasks.Exit(c.Task, status)
	c.Signals.ForgetTask(c.Task.Tid)
	c.Signals.ForgetGroup(c.Task.Group.Pid)
	return 0, 0, Exited
}

// sysWait4 blocks synchronously inside the handler — proc.Table.Wait4
// already does the actual parking via its zombie condition variable — so
// this syscall ties up the dispatching hart for its duration rather than
// freeing it the way sysFutex/sysNanosleep do. A true continuation-based
// implementation would need to save and later resume this task's trap
// frame from a separate goroutine, which this kernel does not build (see
// the matching note in DESIGN.md).
func sysWait4(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	pid := a.Int(0)
	statusAddr := a.Uintptr(1)
	gotPid, status, err := c.Tasks.Wait4(c.Life, c.Task, pid)
	if err != 0 {
		return fail(err)
	}
	if statusAddr != 0 {
		// Linux packs a normal exit's code into bits 8-15 of the status
		// word handed back to the caller.
		_ = c.AS().WriteUint32(statusAddr, uint32(status&0xff)<<8)
	}
	return ok(uintptr(gotPid))
}

func sysKill(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	pid := a.Int(0)
	sig := signal.Signal(a.Int32(1))
	target, ok := c.Tasks.Lookup(pid)
	if !ok {
		return fail(errno.ESRCH)
	}
	mask, ok := c.Signals.Mask(target.Tid)
	if !ok {
		return fail(errno.ESRCH)
	}
	disp, ok := c.Signals.Table(target.Group.Pid)
	if !ok {
		disp = signal.NewTable()
		c.Signals.RegisterGroup(target.Group.Pid, disp)
	}
	signal.DeliverFatal(target, mask, disp, sig)
	return ok0()
}

func ok0() (uintptr, errno.Err_t, Outcome) { return 0, 0, Continue }

func sysRtSigaction(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	sig := signal.Signal(a.Int32(0))
	newAddr := a.Uintptr(1)
	disp, ok := c.Signals.Table(c.Task.Group.Pid)
	if !ok {
		disp = signal.NewTable()
		c.Signals.RegisterGroup(c.Task.Group.Pid, disp)
	}
	if newAddr == 0 {
		return ok0() // query-only form not modeled; always succeeds as a no-op
	}
	disp.SetHandler(sig, signal.Handler{Disp: signal.DispHandler, Entry: newAddr})
	return ok0()
}

const (
	sigBlock   = 0
	sigUnblock = 1
	sigSetmask = 2
)

func sysRtSigprocmask(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	how := a.Int(0)
	set := uint64(a.Uintptr(1))
	mask, ok := c.Signals.Mask(c.Task.Tid)
	if !ok {
		return fail(errno.ESRCH)
	}
	switch how {
	case sigBlock:
		mask.Block(set)
	case sigUnblock:
		mask.Unblock(set)
	case sigSetmask:
		mask.SetBlocked(set)
	default:
		return fail(errno.EINVAL)
	}
	return ok0()
}

const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

// sysFutex implements FUTEX_WAIT/FUTEX_WAKE. A wait that actually blocks
// returns Outcome=Blocked immediately: a goroutine waits on the futex
// table's wake channel (or the task's kill channel) and re-admits the
// task to the scheduler once it fires, freeing the dispatching hart for
// other work in the meantime — unlike sysWait4 above.
func sysFutex(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	addr := a.Uintptr(0)
	op := a.Int32(1) &^ futexPrivateFlag
	val := uint32(a.Uintptr(2))

	switch op {
	case futexWait:
		cur, err := c.AS().ReadUint32(addr)
		if err != 0 {
			return fail(err)
		}
		if cur != val {
			return fail(errno.EAGAIN)
		}
		ch, ok := c.Futexes.Wait(addr)
		if !ok {
			return fail(errno.ENOMEM)
		}
		c.Task.MarkBlocked()
		go func() {
			select {
			case <-ch:
			case <-c.Task.KillChan():
				c.Futexes.CancelWait(addr, ch)
			}
			c.Task.MarkRunnable()
			c.Sched.Enqueue(c.Task)
		}()
		return 0, 0, Blocked
	case futexWake:
		n := c.Futexes.Wake(addr, int(val))
		return ok(uintptr(n))
	default:
		return fail(errno.ENOTIMPL)
	}
}

// sysNanosleep parks the task on the timer heap and returns Blocked,
// re-admitting it to the scheduler once the deadline fires.
func sysNanosleep(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	secAddr := a.Uintptr(0)
	sec, err := c.AS().ReadUint32(secAddr)
	if err != 0 {
		return fail(err)
	}
	nsec, err := c.AS().ReadUint32(secAddr + 4)
	if err != 0 {
		return fail(err)
	}
	d := time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond
	woke := make(chan struct{})
	tok := c.Timers.After(d, func() { close(woke) })
	c.Task.MarkBlocked()
	go func() {
		select {
		case <-woke:
		case <-c.Task.KillChan():
			tok.Cancel()
		}
		c.Task.MarkRunnable()
		c.Sched.Enqueue(c.Task)
	}()
	return 0, 0, Blocked
}

func sysMmap(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	hint := a.Uintptr(0)
	length := a.Uintptr(1)
	prot := a.Uintptr(2)
	if length == 0 {
		return fail(errno.EINVAL)
	}
	perm := vm.PermU
	if prot&1 != 0 {
		perm |= vm.PermR
	}
	if prot&2 != 0 {
		perm |= vm.PermW
	}
	if prot&4 != 0 {
		perm |= vm.PermX
	}
	va, err := c.AS().MapAnon(hint, length, perm)
	if err != 0 {
		return fail(err)
	}
	return ok(va)
}

func sysMunmap(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	lo := a.Uintptr(0)
	length := a.Uintptr(1)
	if err := c.AS().Unmap(lo, lo+length); err != 0 {
		return fail(err)
	}
	return ok0()
}

// sysBrk inserts a read/write anonymous region spanning the requested
// break address rounded down and up to page boundaries, and returns that
// address. It never unmaps, so a lower break does not shrink anything.
// A query call with addr 0 returns 0: this kernel keeps no heap-break
// state beyond the mapped regions themselves.
func sysBrk(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	addr := a.Uintptr(0)
	if addr == 0 {
		return ok(0)
	}
	// A real brk(2) extends one growable heap region; this kernel models
	// it as a plain anonymous mapping at the requested address, leaving
	// contiguous-growth bookkeeping to the caller (glibc/musl both track
	// their own heap end and call brk with the absolute target).
	if err := c.AS().InsertRegion(addr&^(vmPageMask), (addr+vmPageMask)&^vmPageMask, vm.PermR|vm.PermW|vm.PermU); err != 0 {
		return fail(err)
	}
	return ok(addr)
}

const vmPageMask = 4095
