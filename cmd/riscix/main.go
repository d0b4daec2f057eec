// Command riscix is the kernel's own entry point: it brings up every
// hart, loads the init binary named on the command line into the first
// task, and runs the scheduler until a shutdown is requested.
//
// Flag-free and os.Args-driven, in the shape of the teacher's own
// single-purpose command-line tools (biscuit/src/kernel/chentry.go):
// wrong usage is a log.Fatal, not a flag-package usage dump.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"riscix/internal/arch"
	"riscix/internal/blockdev"
	"riscix/internal/boot"
	"riscix/internal/devcons"
	"riscix/internal/elfload"
	"riscix/internal/errno"
	"riscix/internal/fd"
	"riscix/internal/klog"
	"riscix/internal/mem"
	"riscix/internal/oom"
	"riscix/internal/proc"
	ksched "riscix/internal/sched"
	kernsignal "riscix/internal/signal"
	ksyscall "riscix/internal/syscall"
	"riscix/internal/tmpfs"
	"riscix/internal/vm"
	"riscix/internal/wait"
)

func usage(me string) {
	fmt.Printf("%s <nharts> <init-elf-path> [riscv64|loongarch64]\n", me)
	os.Exit(1)
}

// framesPerHart is how many stack-pool pages each hart's kernel stack
// plus the init address space's mapped segments are allowed to consume
// in this hosted build; a real boot sizes this from the memory map the
// firmware hands off instead of a fixed constant.
const framesPerHart = 256

func main() {
	if len(os.Args) < 3 || len(os.Args) > 4 {
		usage(os.Args[0])
	}

	nharts, err := strconv.Atoi(os.Args[1])
	if err != nil || nharts <= 0 {
		log.Fatalf("invalid hart count %q", os.Args[1])
	}

	image, ioerr := os.ReadFile(os.Args[2])
	if ioerr != nil {
		log.Fatalf("reading init binary: %v", ioerr)
	}

	target := vm.RISCV64
	if len(os.Args) == 4 {
		switch os.Args[3] {
		case "riscv64":
			target = vm.RISCV64
		case "loongarch64":
			target = vm.LoongArch64
		default:
			log.Fatalf("unknown arch %q", os.Args[3])
		}
	}

	klog.InitFromEnv()

	kern, kerr := bringUp(nharts, target, image)
	if kerr != 0 {
		log.Fatalf("boot failed: %s", kerr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	watchShutdown(cancel)

	klog.Infof("riscix: %d hart(s) up, entering scheduler", nharts)
	kern.sched.Run(ctx)
	klog.Infof("riscix: shutdown complete")
}

// kernel holds the collaborators bringUp constructs, so main can reach
// the scheduler after boot.Boot returns.
type kernel struct {
	sched   *ksched.Scheduler
	tasks   *proc.Table
	syscall *ksyscall.Table
	signals *kernsignal.Registry
	futexes *wait.FutexTable
	timers  *wait.TimeoutHeap
	fs      *tmpfs.Fs
}

// rootFsBlocks sizes the in-memory block device backing the root tmpfs;
// generous for a single init binary and whatever scratch files it
// creates under this hosted build.
const rootFsBlocks = 4096

// bringUp runs boot.Boot across nharts harts. The BSP path allocates
// physical memory, constructs the task table and scheduler, maps image
// into the init task's address space, and wires the OOM reclaim cascade
// into mem's allocator; every other hart just enables its interrupt
// line once the BSP finishes, matching a real kernel's lean AP path.
func bringUp(nharts int, target vm.Arch, image []byte) (*kernel, errno.Err_t) {
	var kern kernel

	init := func(bsp arch.HartID) errno.Err_t {
		frames := mem.NewStackPool(0, framesPerHart*(nharts+1))

		reclaimer := oom.New()
		reclaimer.Register("stack-pool-reserve", func(want int) int {
			if frames.Reserve(want) {
				return want
			}
			return 0
		})
		mem.SetReclaimHook(reclaimer.Hook())

		as, aserr := vm.NewBare(target, frames)
		if aserr != 0 {
			return aserr
		}
		if _, lerr := elfload.Load(as, image); lerr != 0 {
			return lerr
		}

		tasks := proc.NewTable()
		initTask, terr := tasks.NewInit(as)
		if terr != 0 {
			return terr
		}

		rootFs := tmpfs.New(blockdev.New(rootFsBlocks))
		console := devcons.NewDefault(int(bsp))
		initTask.Group.Files.Install(&fd.Entry{File: console, Perms: fd.Read | fd.Write}) // stdin
		initTask.Group.Files.Install(&fd.Entry{File: console, Perms: fd.Write})           // stdout
		initTask.Group.Files.Install(&fd.Entry{File: console, Perms: fd.Write})           // stderr
		initTask.Group.Cwd = fd.NewRootCwd(&fd.Entry{File: rootFs.OpenRoot(), Perms: fd.Read})

		idleTasks := make([]*proc.Task, nharts)
		for i := range idleTasks {
			idleTasks[i] = &proc.Task{Tid: -(i + 1), Class: proc.ClassIdle}
			idleTasks[i].ResetSchedAtomics()
		}

		// These collaborators back the syscall dispatch table a real
		// trap.Source would drive; neverTrapExecutor below never reaches
		// them, since nothing behind trap.Source exists yet in this hosted
		// build (see DESIGN.md). They are still constructed and kept on
		// kernel so the day a real instruction emulator lands, building a
		// per-task syscall.Context and a trap.Dispatcher around them is
		// the only piece left to wire.
		signals := kernsignal.NewRegistry()
		signals.RegisterTask(initTask.Tid, &kernsignal.Mask{})
		signals.RegisterGroup(initTask.Group.Pid, kernsignal.NewTable())
		futexes := wait.NewFutexTable(64)
		timers := wait.NewTimeoutHeap()

		sch := ksched.New(nharts, idleTasks, neverTrapExecutor{})
		sch.Enqueue(initTask)

		kern = kernel{
			sched:   sch,
			tasks:   tasks,
			syscall: ksyscall.NewTable(),
			signals: signals,
			futexes: futexes,
			timers:  timers,
			fs:      rootFs,
		}
		klog.Infof("boot: init task tid=%d mapped on hart %d", initTask.Tid, bsp)
		return 0
	}

	c, cerr := boot.New(nharts, init, nil)
	if cerr != 0 {
		return nil, cerr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := boot.Boot(ctx, c); err != 0 {
		return nil, err
	}
	return &kern, 0
}

// neverTrapExecutor runs every task to the end of its slice without
// ever trapping. Wiring trap.Dispatcher here would need a real
// instruction-level emulator behind trap.Source, which this hosted
// entry point does not have; this stands in so the scheduler, run
// queues and OOM cascade built above are exercised by something other
// than a unit test's fake Executor.
type neverTrapExecutor struct{}

func (neverTrapExecutor) Dispatch(tk *proc.Task, slice time.Duration) (time.Duration, ksched.Transition) {
	return slice, ksched.Runnable
}

// watchShutdown cancels ctx on SIGINT/SIGTERM or the shutdown syscall
// path (signaled the same way in this hosted build, since there is no
// real user-mode task to issue it from), mirroring the "shutdown path
// that halts the machine" the CLI surface calls for.
func watchShutdown(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		klog.Warnf("riscix: shutdown requested")
		cancel()
	}()
}
