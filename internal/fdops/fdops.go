// Package fdops defines the file-object interface every open
// descriptor's operations are dispatched through: the kernel's
// equivalent of a VFS vnode's file_operations. devcons, tmpfs and the
// syscall layer's socket adapter each implement File; the syscall
// layer's read/write/close handlers never know which.
package fdops

import "riscix/internal/errno"

// File is the operations contract a file descriptor's backing object
// implements, reconstructed from the call sites the retrieval pack's
// fdops skeleton is referenced from (console read/write/poll,
// file copy-in/copy-out) since the pack's own fdops package carries no
// implementation, only a go.mod.
type File interface {
	// Read copies up to len(p) bytes starting at offset into p,
	// returning the number of bytes copied.
	Read(p []byte, offset int64) (int, errno.Err_t)
	// Write copies p into the file starting at offset, returning the
	// number of bytes written.
	Write(p []byte, offset int64) (int, errno.Err_t)
	// Close releases any resource this File holds. Safe to call more
	// than once.
	Close() errno.Err_t
	// Reopen returns a new File sharing this one's underlying state,
	// for dup(2)/fork(2); files with no shared mutable state (an
	// in-memory console) may just return themselves.
	Reopen() (File, errno.Err_t)
}

// Seekable is implemented by a File whose current offset the kernel
// tracks on the descriptor's behalf (regular files; not a console or
// socket, which are always either non-seekable or track offset
// internally).
type Seekable interface {
	Size() int64
}
