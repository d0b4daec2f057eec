package signal

import "riscix/internal/errno"

// FromFault maps an errno a page fault handler returned into the signal
// a real kernel raises for it: EFAULT/EACCES (bad address / permission
// denied) become SIGSEGV, EIO (fault past a mapped file's end) becomes
// SIGBUS. Any other errno is not a fault classification this function
// understands and is returned as SIGSEGV, the conservative default.
func FromFault(e errno.Err_t) Signal {
	switch e {
	case errno.EIO:
		return SIGBUS
	default:
		return SIGSEGV
	}
}
