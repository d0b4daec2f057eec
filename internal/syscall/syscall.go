// Package syscall implements the kernel's system call dispatch table: a
// fixed-size array of handler functions indexed by syscall number,
// replacing a large switch statement the way a real dispatch table would.
// riscv64 and loongarch64 both speak the generic Linux syscall ABI (same
// numbers, same six-register calling convention), so one table serves
// both architectures; internal/trap decodes a syscall trap into a Number
// and six raw argument words and calls Table.Dispatch.
package syscall

import (
	"context"

	"riscix/internal/errno"
	"riscix/internal/proc"
	"riscix/internal/signal"
	"riscix/internal/tmpfs"
	"riscix/internal/vm"
	"riscix/internal/wait"
)

// Number is a syscall number, using the generic Linux riscv64/loongarch64
// numbering (both architectures dropped the historical per-arch tables in
// favor of one shared ABI).
type Number uintptr

const (
	SysGetpid        Number = 172
	SysGettid        Number = 178
	SysClone         Number = 220
	SysExecve        Number = 221
	SysExit          Number = 93
	SysExitGroup     Number = 94
	SysWait4         Number = 260
	SysKill          Number = 129
	SysRtSigaction   Number = 134
	SysRtSigprocmask Number = 135
	SysFutex         Number = 98
	SysNanosleep     Number = 101
	SysMmap          Number = 222
	SysMunmap        Number = 215
	SysBrk           Number = 214

	SysGetdents64 Number = 61
	SysRead       Number = 63
	SysWrite      Number = 64
	SysOpenat     Number = 56
	SysClose      Number = 57

	SysSocket   Number = 198
	SysBind     Number = 200
	SysConnect  Number = 203
	SysSendto   Number = 206
	SysRecvfrom Number = 207

	// MaxSyscallNr bounds Table's dispatch array.
	MaxSyscallNr = 512
)

// AtFdcwd is the dirfd value openat(2) (and friends) uses to mean
// "resolve relative to the caller's current working directory" instead
// of an open directory descriptor.
const AtFdcwd = -100

// CloneVM is clone(2)'s CLONE_VM flag: when set, the new task shares the
// caller's address space (a POSIX thread). Its absence is what makes a
// bare clone(2) call behave like fork(2) — riscv64 and loongarch64 have
// no separate sys_fork, just this one flag check.
const CloneVM = 0x00000100

// Args is a syscall's six raw argument registers (a0-a5 on both the
// riscv64 and loongarch64 generic ABI), wrapped for type-safe access
// instead of bare array indexing.
type Args struct {
	raw [6]uintptr
}

// NewArgs wraps six raw argument words.
func NewArgs(raw [6]uintptr) Args { return Args{raw: raw} }

// Uintptr returns argument i as a raw pointer-sized value.
func (a Args) Uintptr(i int) uintptr { return a.raw[i] }

// Int returns argument i sign-extended as an int.
func (a Args) Int(i int) int { return int(int64(a.raw[i])) }

// Int32 returns argument i truncated to an int32.
func (a Args) Int32(i int) int32 { return int32(a.raw[i]) }

// Outcome reports what a handler did to its calling task.
type Outcome int

const (
	// Continue means the handler ran to completion and the task keeps
	// running (the common case: getpid, kill, mmap, ...).
	Continue Outcome = iota
	// Blocked means the handler parked the task on some wait condition
	// and arranged for Context.Sched.Enqueue to be called once it's
	// ready to run again; the caller must not touch the task further.
	Blocked
	// Exited means the handler ran the task's exit path.
	Exited
)

// Enqueuer re-admits a task to the scheduler once it becomes runnable,
// whether newly created (fork/clone) or woken from a blocked syscall
// (futex wait, nanosleep). *sched.Scheduler satisfies this; kept as an
// interface here so syscall does not need to import sched.
type Enqueuer interface {
	Enqueue(tk *proc.Task)
}

// Context bundles the kernel-global collaborators a syscall handler
// needs, plus the calling task itself.
type Context struct {
	Tasks   *proc.Table
	Sched   Enqueuer
	Futexes *wait.FutexTable
	Timers  *wait.TimeoutHeap
	Signals *signal.Registry
	Arch    vm.Arch
	Loader  proc.Loader
	// FS is the filesystem openat/getdents64 resolve paths against. Nil
	// in tests that never exercise the file syscalls.
	FS *tmpfs.Fs

	Task *proc.Task
	// Life is cancelled when Task exits; Wait4 is scoped to it so a
	// doomed or reaped task never blocks a hart forever. Futex and
	// nanosleep waits end on the task's kill channel instead.
	Life context.Context
}

// AS returns the calling task's address space.
func (c *Context) AS() *vm.AddressSpace {
	return c.Task.Group.AddressSpace()
}

// Handler implements one syscall. a holds the six raw argument registers;
// the return value is either the success value or the non-negative errno
// that DeliverFatal-style ABI expects the caller to negate.
type Handler func(c *Context, a Args) (ret uintptr, err errno.Err_t, outcome Outcome)

type entry struct {
	handler Handler
	name    string
}

// Table is the syscall dispatch table: an array indexed directly by
// syscall number, so dispatch is a single bounds-checked load instead of
// a chain of comparisons.
type Table struct {
	entries [MaxSyscallNr]entry
}

// NewTable returns a dispatch table with every syscall implemented by
// this kernel registered.
func NewTable() *Table {
	t := &Table{}
	t.Register(SysGetpid, "getpid", sysGetpid)
	t.Register(SysGettid, "gettid", sysGettid)
	t.Register(SysClone, "clone", sysClone)
	t.Register(SysExecve, "execve", sysExecve)
	t.Register(SysExit, "exit", sysExit)
	t.Register(SysExitGroup, "exit_group", sysExit)
	t.Register(SysWait4, "wait4", sysWait4)
	t.Register(SysKill, "kill", sysKill)
	t.Register(SysRtSigaction, "rt_sigaction", sysRtSigaction)
	t.Register(SysRtSigprocmask, "rt_sigprocmask", sysRtSigprocmask)
	t.Register(SysFutex, "futex", sysFutex)
	t.Register(SysNanosleep, "nanosleep", sysNanosleep)
	t.Register(SysMmap, "mmap", sysMmap)
	t.Register(SysMunmap, "munmap", sysMunmap)
	t.Register(SysBrk, "brk", sysBrk)
	t.Register(SysOpenat, "openat", sysOpenat)
	t.Register(SysRead, "read", sysRead)
	t.Register(SysWrite, "write", sysWrite)
	t.Register(SysClose, "close", sysClose)
	t.Register(SysGetdents64, "getdents64", sysGetdents64)
	t.Register(SysSocket, "socket", sysSocket)
	t.Register(SysBind, "bind", sysBind)
	t.Register(SysConnect, "connect", sysConnect)
	t.Register(SysSendto, "sendto", sysSendto)
	t.Register(SysRecvfrom, "recvfrom", sysRecvfrom)
	return t
}

// Register installs handler as the implementation of syscall number n,
// for name is debug/trace logging.
func (t *Table) Register(n Number, name string, h Handler) {
	t.entries[n] = entry{handler: h, name: name}
}

// Name returns n's registered debug name, or "unknown".
func (t *Table) Name(n Number) string {
	if int(n) < 0 || int(n) >= MaxSyscallNr || t.entries[n].handler == nil {
		return "unknown"
	}
	return t.entries[n].name
}

// Dispatch looks up n and runs its handler, or returns ENOSYS if no
// syscall is registered at that number.
func (t *Table) Dispatch(c *Context, n Number, a Args) (uintptr, errno.Err_t, Outcome) {
	if int(n) < 0 || int(n) >= MaxSyscallNr || t.entries[n].handler == nil {
		return uintptr(errno.ENOSYS.Errno()), errno.ENOSYS, Continue
	}
	return t.entries[n].handler(c, a)
}
