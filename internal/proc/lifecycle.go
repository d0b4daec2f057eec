package proc

import (
	"context"

	"riscix/internal/errno"
	"riscix/internal/limits"
	"riscix/internal/vm"
)

// Loader loads a program image into a freshly created address space,
// returning the entry point virtual address. elfload.Load implements
// this signature; keeping it as a function type here instead of a direct
// import avoids proc depending on the ELF decoder at all.
type Loader func(as *vm.AddressSpace) (entry uintptr, err errno.Err_t)

// Fork creates a new task with its own thread group and a copy-on-write
// clone of the parent's address space: the classic POSIX fork(2). The
// child starts with a single thread whose Tid is also its new Pid.
func (t *Table) Fork(parent *Task) (*Task, errno.Err_t) {
	if !limits.Syslimit.Tasks.Take() {
		return nil, errno.ENOMEM
	}
	parent.Group.mu.Lock()
	childAS, err := parent.Group.AS.ForkCopy()
	parent.Group.mu.Unlock()
	if err != 0 {
		limits.Syslimit.Tasks.Give()
		return nil, err
	}

	tid := t.allocTid()
	grp := newThreadGroup(tid, childAS, parent.Group)

	parent.Group.mu.Lock()
	parentFiles, parentCwd := parent.Group.Files, parent.Group.Cwd
	parent.Group.children[grp.Pid] = grp
	parent.Group.mu.Unlock()

	if files, ferr := parentFiles.Fork(); ferr != 0 {
		limits.Syslimit.Tasks.Give()
		return nil, ferr
	} else {
		grp.Files = files
	}
	if parentCwd != nil {
		cwd, cerr := parentCwd.Fork()
		if cerr != 0 {
			limits.Syslimit.Tasks.Give()
			return nil, cerr
		}
		grp.Cwd = cwd
	}

	child := &Task{
		Tid:        tid,
		Group:      grp,
		State:      StateRunnable,
		Class:      parent.Class,
		Nice:       parent.Nice,
		RTPriority: parent.RTPriority,
		killCh:     make(chan struct{}),
		waitCh:     make(chan struct{}),
	}
	child.ResetSchedAtomics()
	if e := childAS.AllocUserRes(tid, true); e != 0 {
		limits.Syslimit.Tasks.Give()
		return nil, e
	}
	t.insert(child)
	return child, 0
}

// Clone creates a new thread sharing the caller's thread group (and so
// its address space, file table, and signal disposition) — the
// CLONE_VM|CLONE_FILES|CLONE_SIGHAND shape of clone(2) this kernel
// supports, i.e. POSIX threads rather than arbitrary namespace-isolated
// clones.
func (t *Table) Clone(parent *Task) (*Task, errno.Err_t) {
	if !limits.Syslimit.Tasks.Take() {
		return nil, errno.ENOMEM
	}
	tid := t.allocTid()
	parent.Group.mu.Lock()
	parent.Group.refs++
	as := parent.Group.AS
	parent.Group.mu.Unlock()

	if e := as.AllocUserRes(tid, true); e != 0 {
		limits.Syslimit.Tasks.Give()
		return nil, e
	}
	child := &Task{
		Tid:        tid,
		Group:      parent.Group,
		State:      StateRunnable,
		Class:      parent.Class,
		Nice:       parent.Nice,
		RTPriority: parent.RTPriority,
		killCh:     make(chan struct{}),
		waitCh:     make(chan struct{}),
	}
	child.ResetSchedAtomics()
	t.insert(child)
	return child, 0
}

// Exec replaces the calling task's thread group's address space with a
// freshly loaded program image, returning the new entry point. Exec
// neither stops nor checks for sibling threads in the group, and the
// syscall layer's sysExecve does not reject a multi-threaded caller.
func (t *Table) Exec(tk *Task, a vm.Arch, load Loader) (uintptr, errno.Err_t) {
	tk.Group.mu.Lock()
	old := tk.Group.AS
	tk.Group.mu.Unlock()

	fresh, err := vm.NewBare(a, old.FrameAllocator())
	if err != 0 {
		return 0, err
	}
	entry, err := load(fresh)
	if err != 0 {
		return 0, err
	}
	if e := fresh.AllocUserRes(tk.Tid, true); e != 0 {
		return 0, e
	}

	tk.Group.mu.Lock()
	tk.Group.AS = fresh
	tk.Group.mu.Unlock()
	old.Destroy()

	// POSIX: exec closes every CLOEXEC descriptor; everything else
	// (unlike the address space) survives into the new program image.
	if tk.Group.Files != nil {
		tk.Group.Files.CloseOnExec()
	}

	return entry, 0
}

// Exit terminates the calling task. If it was the last live thread in its
// thread group, the group's address space is torn down and a zombie
// record is queued for the parent's Wait4.
func (t *Table) Exit(tk *Task, status int) {
	tk.mu.Lock()
	tk.State = StateZombie
	tk.ExitCode = status
	close(tk.waitCh)
	tk.mu.Unlock()

	grp := tk.Group
	grp.mu.Lock()
	grp.refs--
	last := grp.refs == 0
	if last {
		grp.exited = true
		grp.exitStatus = status
	}
	grp.mu.Unlock()

	if last {
		grp.AS.Destroy()
		if grp.Parent != nil {
			p := grp.Parent
			p.mu.Lock()
			delete(p.children, grp.Pid)
			p.zombies = append(p.zombies, grp)
			p.zombieCond.Broadcast()
			p.mu.Unlock()
		}
	}
	limits.Syslimit.Tasks.Give()
}

// Wait4 blocks the parent task until a child thread group identified by
// pid (or any child, if pid is 0) exits, then reaps it and returns its
// pid and exit status. ctx cancellation or the parent being doomed (e.g.
// a pending signal) unblocks the wait early with EINTR.
func (t *Table) Wait4(ctx context.Context, parent *Task, pid int) (int, int, errno.Err_t) {
	grp := parent.Group

	// Cond.Wait has no cancellation of its own: a watcher goroutine
	// rebroadcasts when ctx or the task's kill channel fires, so the
	// waiter below always wakes to re-check its exit condition.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-parent.KillChan():
		case <-stop:
			return
		}
		grp.mu.Lock()
		grp.zombieCond.Broadcast()
		grp.mu.Unlock()
	}()

	grp.mu.Lock()
	defer grp.mu.Unlock()
	for {
		if idx := findZombie(grp.zombies, pid); idx >= 0 {
			z := grp.zombies[idx]
			grp.zombies = append(grp.zombies[:idx], grp.zombies[idx+1:]...)
			return z.Pid, z.exitStatus, 0
		}
		if len(grp.children) == 0 && len(grp.zombies) == 0 {
			return 0, 0, errno.ECHILD
		}
		select {
		case <-ctx.Done():
			return 0, 0, errno.EINTR
		case <-parent.KillChan():
			return 0, 0, errno.EINTR
		default:
		}
		grp.zombieCond.Wait()
	}
}

// findZombie returns the index of a zombie matching pid (0 matches any),
// or -1 if none is queued yet.
func findZombie(zombies []*ThreadGroup, pid int) int {
	for i, z := range zombies {
		if pid == 0 || z.Pid == pid {
			return i
		}
	}
	return -1
}
