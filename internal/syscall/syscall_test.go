package syscall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"riscix/internal/errno"
	"riscix/internal/mem"
	"riscix/internal/proc"
	"riscix/internal/signal"
	"riscix/internal/vm"
	"riscix/internal/wait"
)

type fakeSched struct {
	mu       sync.Mutex
	enqueued []*proc.Task
}

func (f *fakeSched) Enqueue(tk *proc.Task) {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, tk)
	f.mu.Unlock()
}

func (f *fakeSched) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func newTestContext(t *testing.T) (*Context, *fakeSched) {
	t.Helper()
	pool := mem.NewStackPool(0, 512)
	as, err := vm.NewBare(vm.RISCV64, pool)
	require.Equal(t, 0, int(err))
	require.Equal(t, 0, int(as.InsertRegion(0x10000, 0x20000, vm.PermR|vm.PermW|vm.PermU)))

	tasks := proc.NewTable()
	tk, err := tasks.NewInit(as)
	require.Equal(t, 0, int(err))
	require.Equal(t, 0, int(as.AllocUserRes(tk.Tid, true)))

	reg := signal.NewRegistry()
	reg.RegisterTask(tk.Tid, &signal.Mask{})
	reg.RegisterGroup(tk.Group.Pid, signal.NewTable())

	fs := &fakeSched{}
	c := &Context{
		Tasks:   tasks,
		Sched:   fs,
		Futexes: wait.NewFutexTable(16),
		Timers:  wait.NewTimeoutHeap(),
		Signals: reg,
		Arch:    vm.RISCV64,
		Task:    tk,
		Life:    context.Background(),
	}
	return c, fs
}

func TestSysGetpidGettid(t *testing.T) {
	c, _ := newTestContext(t)
	ret, err, outcome := sysGetpid(c, Args{})
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)
	require.Equal(t, uintptr(c.Task.Group.Pid), ret)

	ret, _, _ = sysGettid(c, Args{})
	require.Equal(t, uintptr(c.Task.Tid), ret)
}

func TestSysCloneWithCloneVMSharesGroup(t *testing.T) {
	c, fs := newTestContext(t)
	ret, err, outcome := sysClone(c, NewArgs([6]uintptr{CloneVM, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)
	require.Equal(t, 1, fs.count())

	childTid := int(ret)
	child, ok := c.Tasks.Lookup(childTid)
	require.True(t, ok)
	require.Same(t, c.Task.Group, child.Group)

	_, ok = c.Signals.Mask(childTid)
	require.True(t, ok)
}

func TestSysCloneWithoutCloneVMForks(t *testing.T) {
	c, fs := newTestContext(t)
	ret, err, _ := sysClone(c, NewArgs([6]uintptr{0, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 1, fs.count())

	child, ok := c.Tasks.Lookup(int(ret))
	require.True(t, ok)
	require.NotSame(t, c.Task.Group, child.Group)

	_, ok = c.Signals.Table(child.Group.Pid)
	require.True(t, ok)
}

func TestSysExecveLoadsNewImage(t *testing.T) {
	c, _ := newTestContext(t)
	c.Loader = func(fresh *vm.AddressSpace) (uintptr, errno.Err_t) {
		if err := fresh.InsertProgramSegment(0x1000, 0x2000, vm.PermR|vm.PermX|vm.PermU, []byte{0x13, 0, 0, 0}); err != 0 {
			return 0, err
		}
		return 0x1000, 0
	}
	ret, err, outcome := sysExecve(c, Args{})
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)
	require.Equal(t, uintptr(0x1000), ret)

	_, ok := c.Task.Group.AddressSpace().Translate(0x10000)
	require.False(t, ok)
}

func TestSysExitReturnsExitedOutcome(t *testing.T) {
	c, _ := newTestContext(t)
	_, err, outcome := sysExit(c, NewArgs([6]uintptr{7, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Exited, outcome)

	_, ok := c.Signals.Mask(c.Task.Tid)
	require.False(t, ok)
}

func TestSysWait4ReapsChild(t *testing.T) {
	c, _ := newTestContext(t)
	cloneRet, _, _ := sysClone(c, NewArgs([6]uintptr{0, 0, 0, 0, 0, 0}))
	child, _ := c.Tasks.Lookup(int(cloneRet))

	done := make(chan struct{})
	var ret uintptr
	var werr errno.Err_t
	go func() {
		ret, werr, _ = sysWait4(c, NewArgs([6]uintptr{0, 0, 0, 0, 0, 0}))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Tasks.Exit(child, 3)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait4 did not return")
	}
	require.Equal(t, errno.Err_t(0), werr)
	require.Equal(t, uintptr(child.Tid), ret)
}

func TestSysKillSigkillDoomsTarget(t *testing.T) {
	c, _ := newTestContext(t)
	cloneRet, _, _ := sysClone(c, NewArgs([6]uintptr{CloneVM, 0, 0, 0, 0, 0}))
	childTid := int(cloneRet)
	child, _ := c.Tasks.Lookup(childTid)

	_, err, outcome := sysKill(c, NewArgs([6]uintptr{uintptr(child.Group.Pid), uintptr(signal.SIGKILL), 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)
	require.True(t, child.IsDoomed())
}

func TestSysRtSigprocmaskBlocksAndUnblocks(t *testing.T) {
	c, _ := newTestContext(t)
	set := uintptr(1) << uint(signal.SIGTERM)
	_, err, _ := sysRtSigprocmask(c, NewArgs([6]uintptr{sigBlock, set, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)

	mask, _ := c.Signals.Mask(c.Task.Tid)
	mask.Raise(signal.SIGTERM)
	_, ok := mask.Deliverable()
	require.False(t, ok, "blocked signal must not be deliverable")

	_, err, _ = sysRtSigprocmask(c, NewArgs([6]uintptr{sigUnblock, set, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	sig, ok := mask.Deliverable()
	require.True(t, ok)
	require.Equal(t, signal.SIGTERM, sig)
}

func TestSysFutexWaitBlocksThenWakeRequeues(t *testing.T) {
	c, fs := newTestContext(t)
	addr := uintptr(0x10000)
	require.Equal(t, errno.Err_t(0), errno.Err_t(c.AS().WriteUint32(addr, 0)))

	_, err, outcome := sysFutex(c, NewArgs([6]uintptr{addr, futexWait, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Blocked, outcome)
	require.Equal(t, proc.StateBlocked, c.Task.State)

	ret, err, outcome := sysFutex(c, NewArgs([6]uintptr{addr, futexWake, 1, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)
	require.Equal(t, uintptr(1), ret)

	require.Eventually(t, func() bool { return fs.count() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, proc.StateRunnable, c.Task.State)
}

func TestSysFutexWaitWrongValueReturnsEAGAIN(t *testing.T) {
	c, _ := newTestContext(t)
	addr := uintptr(0x10000)
	require.Equal(t, errno.Err_t(0), errno.Err_t(c.AS().WriteUint32(addr, 5)))

	_, err, outcome := sysFutex(c, NewArgs([6]uintptr{addr, futexWait, 0, 0, 0, 0}))
	require.Equal(t, errno.EAGAIN, err)
	require.Equal(t, Continue, outcome)
}

func TestSysNanosleepWakesAfterDeadline(t *testing.T) {
	c, fs := newTestContext(t)
	addr := uintptr(0x10000)
	require.Equal(t, errno.Err_t(0), errno.Err_t(c.AS().WriteUint32(addr, 0)))
	require.Equal(t, errno.Err_t(0), errno.Err_t(c.AS().WriteUint32(addr+4, 20_000_000))) // 20ms in nsec

	_, err, outcome := sysNanosleep(c, NewArgs([6]uintptr{addr, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Blocked, outcome)

	require.Eventually(t, func() bool { return fs.count() == 1 }, time.Second, time.Millisecond)
}

func TestSysMmapThenMunmap(t *testing.T) {
	c, _ := newTestContext(t)
	ret, err, _ := sysMmap(c, NewArgs([6]uintptr{0, 0x4000, 0x3, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.NotZero(t, ret)

	_, err, _ = sysMunmap(c, NewArgs([6]uintptr{ret, 0x4000, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
}

func TestSysBrkQueryAndGrow(t *testing.T) {
	c, _ := newTestContext(t)
	ret, err, _ := sysBrk(c, NewArgs([6]uintptr{0, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(0), ret)

	ret, err, _ = sysBrk(c, NewArgs([6]uintptr{0x30000, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(0x30000), ret)
}

func TestTableDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	tbl := NewTable()
	c, _ := newTestContext(t)
	_, err, outcome := tbl.Dispatch(c, Number(511), Args{})
	require.Equal(t, errno.ENOSYS, err)
	require.Equal(t, Continue, outcome)
}

func TestTableDispatchRoutesToRegisteredHandler(t *testing.T) {
	tbl := NewTable()
	c, _ := newTestContext(t)
	ret, err, _ := tbl.Dispatch(c, SysGetpid, Args{})
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(c.Task.Group.Pid), ret)
	require.Equal(t, "getpid", tbl.Name(SysGetpid))
}
