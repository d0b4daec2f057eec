// Package trap ties a task's trap events (syscalls, page faults,
// illegal instructions, timer interrupts) to the dispatch table,
// address space fault handler, and signal delivery path, implementing
// sched.Executor. Grounded on the riscv64 trap handler's scause/stval
// decode-and-branch shape, generalized so the same Cause classification
// serves loongarch64's ESTAT/BADV trap model too.
package trap

import (
	"time"

	"riscix/internal/proc"
	"riscix/internal/sched"
	"riscix/internal/signal"
	"riscix/internal/syscall"
	"riscix/internal/vm"
)

// Cause classifies a trap independent of which architecture raised it.
// riscv64 reaches these from scause's Exception/Interrupt decode;
// loongarch64 reaches them from ESTAT's exception code field.
type Cause int

const (
	// CauseSyscall is a user environment call (ecall on riscv64,
	// syscall on loongarch64): Frame.Nr and Frame.Args are valid.
	CauseSyscall Cause = iota
	CauseLoadFault
	CauseStoreFault
	CauseInstructionFault
	CauseLoadPageFault
	CauseStorePageFault
	CauseInstructionPageFault
	CauseIllegalInstruction
	// CauseTimerInterrupt is the periodic timer that backs preemption;
	// it carries no fault address or syscall payload.
	CauseTimerInterrupt
)

func (c Cause) String() string {
	switch c {
	case CauseSyscall:
		return "syscall"
	case CauseLoadFault:
		return "load-fault"
	case CauseStoreFault:
		return "store-fault"
	case CauseInstructionFault:
		return "instruction-fault"
	case CauseLoadPageFault:
		return "load-page-fault"
	case CauseStorePageFault:
		return "store-page-fault"
	case CauseInstructionPageFault:
		return "instruction-page-fault"
	case CauseIllegalInstruction:
		return "illegal-instruction"
	case CauseTimerInterrupt:
		return "timer-interrupt"
	default:
		return "unknown"
	}
}

// Frame is the portion of a trapped task's saved register state this
// package reads: the faulting virtual address (stval on riscv64, BADV
// on loongarch64) for a fault cause, or the syscall number and its six
// argument registers for a syscall cause.
type Frame struct {
	Fault uintptr
	Nr    syscall.Number
	Args  syscall.Args
}

// Event is one trap delivered for a task during a dispatch.
type Event struct {
	Cause Cause
	Frame Frame
}

// Source supplies the next trap a task raises within budget, standing
// in for real trap entry. A hosted build reaches this from an
// instruction-level emulator or hypervisor callback; tests implement it
// directly to inject synthetic traps without any real user-mode
// execution. ok is false if the task ran its entire budget without
// trapping (its quantum simply expired).
type Source interface {
	Next(tk *proc.Task, budget time.Duration) (ev Event, ran time.Duration, ok bool)
}

// Dispatcher implements sched.Executor: Source supplies the trap,
// Syscalls handles a syscall cause, the task's own address space
// handles a fault cause, and Signals resolves how a fault or illegal
// instruction becomes a fatal signal.
type Dispatcher struct {
	Source   Source
	Syscalls *syscall.Table
	Signals  *signal.Registry

	// NewSyscallContext builds the syscall.Context for a syscall trap
	// raised by tk. Exposed as a hook (rather than a fixed struct this
	// package assembles itself) so the caller controls how Tasks/Sched/
	// Futexes/Timers/Arch/Loader/Life get threaded through, all of which
	// are owned above this package.
	NewSyscallContext func(tk *proc.Task) *syscall.Context
}

var _ sched.Executor = (*Dispatcher)(nil)

// Dispatch runs tk for up to slice, translating whatever trap fires (if
// any) into the Transition the scheduler needs.
func (d *Dispatcher) Dispatch(tk *proc.Task, slice time.Duration) (time.Duration, sched.Transition) {
	ev, ran, trapped := d.Source.Next(tk, slice)
	if !trapped {
		return slice, sched.Runnable
	}

	switch ev.Cause {
	case CauseSyscall:
		return ran, d.dispatchSyscall(tk, ev.Frame)
	case CauseLoadFault, CauseStoreFault, CauseInstructionFault,
		CauseLoadPageFault, CauseStorePageFault, CauseInstructionPageFault:
		d.handleFault(tk, ev.Cause, ev.Frame.Fault)
		return ran, sched.Runnable
	case CauseIllegalInstruction:
		d.raise(tk, signal.SIGILL)
		return ran, sched.Runnable
	case CauseTimerInterrupt:
		// The scheduler itself enforces the timeslice; a timer trap
		// arriving mid-slice just means the quantum is up.
		return ran, sched.Runnable
	default:
		return ran, sched.Runnable
	}
}

func (d *Dispatcher) dispatchSyscall(tk *proc.Task, f Frame) sched.Transition {
	c := d.NewSyscallContext(tk)
	_, _, outcome := d.Syscalls.Dispatch(c, f.Nr, f.Args)
	switch outcome {
	case syscall.Blocked:
		return sched.Blocked
	case syscall.Exited:
		return sched.Exited
	default:
		d.deliverPending(tk)
		return sched.Runnable
	}
}

var faultCauseOf = map[Cause]vm.FaultCause{
	CauseLoadFault:            vm.FaultRead,
	CauseLoadPageFault:        vm.FaultRead,
	CauseStoreFault:           vm.FaultWrite,
	CauseStorePageFault:       vm.FaultWrite,
	CauseInstructionFault:     vm.FaultExec,
	CauseInstructionPageFault: vm.FaultExec,
}

func (d *Dispatcher) handleFault(tk *proc.Task, cause Cause, addr uintptr) {
	as := tk.Group.AddressSpace()
	if err := as.HandlePageFault(addr, faultCauseOf[cause]); err != 0 {
		d.raise(tk, signal.FromFault(err))
	}
}

// raise delivers sig against tk's registered mask/disposition table,
// following the same fatal-fast-path DeliverFatal already implements;
// a caught (non-default) signal is left pending for the next
// return-to-user-space check rather than acted on here, since detouring
// through a user handler requires rewriting a saved trap frame this
// package's Source abstraction does not expose.
func (d *Dispatcher) raise(tk *proc.Task, sig signal.Signal) {
	mask, ok := d.Signals.Mask(tk.Tid)
	if !ok {
		return
	}
	disp, ok := d.Signals.Table(tk.Group.Pid)
	if !ok {
		disp = signal.NewTable()
		d.Signals.RegisterGroup(tk.Group.Pid, disp)
	}
	signal.DeliverFatal(tk, mask, disp, sig)
}

// deliverPending checks for a deliverable signal after a syscall
// returns, dooming the task immediately if it resolves to a default
// terminating action. Handler dispatch (detouring through a caught
// signal's entry point) is left to a future trap-frame-aware build.
func (d *Dispatcher) deliverPending(tk *proc.Task) {
	mask, ok := d.Signals.Mask(tk.Tid)
	if !ok {
		return
	}
	disp, ok := d.Signals.Table(tk.Group.Pid)
	if !ok {
		return
	}
	sig, ok := mask.Deliverable()
	if !ok {
		return
	}
	h := disp.Handler(sig)
	if h.Disp == signal.DispIgnore || h.Disp == signal.DispHandler {
		return
	}
	switch signal.DefaultAction(sig) {
	case signal.ActTerm, signal.ActCore:
		tk.MarkDoomed()
	}
}
