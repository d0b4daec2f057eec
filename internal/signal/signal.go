// Package signal implements POSIX signal disposition, pending/blocked
// masks, and fatal-signal delivery. Delivery of a caught (non-default)
// signal to a handler requires rewriting the target task's trap frame
// to detour through the handler and back; the trap layer (internal/trap)
// does not do that detour, and leaves a caught signal pending. This
// package owns the bookkeeping that decision is made from — pending
// set, blocked set, handler table, and default actions — plus the
// fatal-signal fast path that does not need the trap layer at all.
package signal

import "sync"

// Signal is a POSIX signal number.
type Signal int

const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGILL  Signal = 4
	SIGTRAP Signal = 5
	SIGABRT Signal = 6
	SIGBUS  Signal = 7
	SIGFPE  Signal = 8
	SIGKILL Signal = 9
	SIGUSR1 Signal = 10
	SIGSEGV Signal = 11
	SIGUSR2 Signal = 12
	SIGPIPE Signal = 13
	SIGALRM Signal = 14
	SIGTERM Signal = 15
	SIGCHLD Signal = 17
	SIGCONT Signal = 18
	SIGSTOP Signal = 19
	SIGTSTP Signal = 20
	SIGTTIN Signal = 21
	SIGTTOU Signal = 22
	SIGSYS  Signal = 31

	maxSignal = 64
)

// Action classifies what happens to a task that receives sig and has no
// custom handler installed for it.
type Action int

const (
	ActTerm Action = iota
	ActIgnore
	ActCore
	ActStop
	ActContinue
)

// defaultAction is POSIX's default-disposition table.
var defaultAction = map[Signal]Action{
	SIGHUP:  ActTerm,
	SIGINT:  ActTerm,
	SIGQUIT: ActCore,
	SIGILL:  ActCore,
	SIGTRAP: ActCore,
	SIGABRT: ActCore,
	SIGBUS:  ActCore,
	SIGFPE:  ActCore,
	SIGKILL: ActTerm,
	SIGUSR1: ActTerm,
	SIGSEGV: ActCore,
	SIGUSR2: ActTerm,
	SIGPIPE: ActTerm,
	SIGALRM: ActTerm,
	SIGTERM: ActTerm,
	SIGCHLD: ActIgnore,
	SIGCONT: ActContinue,
	SIGSTOP: ActStop,
	SIGTSTP: ActStop,
	SIGTTIN: ActStop,
	SIGTTOU: ActStop,
	SIGSYS:  ActCore,
}

// DefaultAction returns sig's default disposition, ActTerm for any
// signal not in the table above (the POSIX fallback for real-time and
// otherwise unlisted signals).
func DefaultAction(sig Signal) Action {
	if a, ok := defaultAction[sig]; ok {
		return a
	}
	return ActTerm
}

// Disposition is what a task has arranged to happen when sig arrives:
// either the default action, explicit ignore, or a caught handler.
type Disposition int

const (
	DispDefault Disposition = iota
	DispIgnore
	DispHandler
)

// Handler describes a caught signal's installed disposition.
type Handler struct {
	Disp  Disposition
	Entry uintptr // user-space handler entry point, if Disp == DispHandler
	Mask  uint64  // additional signals blocked while the handler runs
	Flags uint64  // SA_* flags, e.g. SA_RESTART / SA_SIGINFO
}

// Table is one thread group's signal disposition: handlers are shared
// process-wide (POSIX requires sigaction be per-process, not
// per-thread), while pending and blocked sets are per-task.
type Table struct {
	mu       sync.Mutex
	handlers [maxSignal]Handler
}

// NewTable returns a disposition table with every signal at its default
// action.
func NewTable() *Table { return &Table{} }

// SetHandler installs h for sig, returning the previous handler (the
// old disposition sigaction(2) hands back).
func (t *Table) SetHandler(sig Signal, h Handler) Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.handlers[sig]
	t.handlers[sig] = h
	return old
}

// Handler returns sig's currently installed disposition.
func (t *Table) Handler(sig Signal) Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[sig]
}

// Fork returns a copy of t for a child thread group: handler
// dispositions are inherited by fork (though not the pending set, which
// lives on Mask instead).
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{handlers: t.handlers}
	return nt
}

// ResetOnExec clears every caught handler back to its default action,
// the POSIX exec(3) rule (SIG_IGN dispositions for SIGCHLD-like signals
// are the one exception real kernels special-case; not modeled here).
func (t *Table) ResetOnExec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.handlers {
		if t.handlers[i].Disp == DispHandler {
			t.handlers[i] = Handler{}
		}
	}
}
