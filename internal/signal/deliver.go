package signal

import "riscix/internal/proc"

// Killable is the subset of *proc.Task signal delivery needs: the
// doomed flag and its wake channel. Kept as an interface rather than
// importing *proc.Task directly so this file's logic is unit-testable
// against a fake without constructing a real address space.
type Killable interface {
	MarkDoomed()
	IsDoomed() bool
}

var _ Killable = (*proc.Task)(nil)

// DeliverFatal raises sig against tk's pending mask and, if sig's
// disposition (checked against disp) resolves to a default action that
// terminates the task (ActTerm or ActCore — this kernel does not model
// job-control stop/continue), marks tk doomed immediately rather than
// waiting for the next return-to-user-space check. SIGKILL always
// takes this fast path regardless of disposition, matching POSIX (it
// cannot be caught, blocked, or ignored).
func DeliverFatal(tk Killable, mask *Mask, disp *Table, sig Signal) {
	mask.Raise(sig)
	if sig == SIGKILL {
		tk.MarkDoomed()
		return
	}
	h := disp.Handler(sig)
	if h.Disp == DispHandler {
		return // the trap layer will detour through the handler
	}
	if h.Disp == DispIgnore {
		return
	}
	switch DefaultAction(sig) {
	case ActTerm, ActCore:
		tk.MarkDoomed()
	}
}
