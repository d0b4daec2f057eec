package syscall

import (
	"encoding/binary"

	"riscix/internal/errno"
	"riscix/internal/fd"
	"riscix/internal/tmpfs"
	"riscix/internal/ustr"
)

// maxPathLen bounds a copied-in path string, matching Linux's PATH_MAX
// closely enough for this kernel's single in-memory filesystem.
const maxPathLen = 4096

// baseInode resolves dirfd to the directory a relative path in
// openat/mkdir/unlink should be walked from: AtFdcwd means the caller's
// current working directory, anything else names an already-open
// directory descriptor.
func (c *Context) baseInode(dirfd int) (*tmpfs.Inode, errno.Err_t) {
	if c.FS == nil {
		return nil, errno.ENOSYS
	}
	if dirfd == AtFdcwd {
		cwd := c.Task.Group.Cwd
		if cwd == nil {
			return c.FS.Root(), 0
		}
		dir, _ := cwd.Snapshot()
		if dir == nil {
			return c.FS.Root(), 0
		}
		tf, ok := dir.File.(*tmpfs.File)
		if !ok {
			return c.FS.Root(), 0
		}
		return tf.Inode(), 0
	}
	e, ok := c.Task.Group.Files.Get(dirfd)
	if !ok {
		return nil, errno.EBADF
	}
	tf, ok := e.File.(*tmpfs.File)
	if !ok {
		return nil, errno.ENOTDIR
	}
	return tf.Inode(), 0
}

// permsFromOpenFlags translates the O_RDONLY/O_WRONLY/O_RDWR bits
// tmpfs.OpenAt already understands into the fd.Read/fd.Write bits the
// descriptor table records, plus O_CLOEXEC carried straight through.
func permsFromOpenFlags(flags int) int {
	perms := 0
	switch flags & (tmpfs.OWronly | tmpfs.ORdwr) {
	case tmpfs.OWronly:
		perms = fd.Write
	case tmpfs.ORdwr:
		perms = fd.Read | fd.Write
	default:
		perms = fd.Read
	}
	if flags&oCloexec != 0 {
		perms |= fd.CloExec
	}
	return perms
}

// oCloexec is O_CLOEXEC's bit in the generic Linux open(2) flag word;
// tmpfs.OpenAt itself doesn't need to know about it; only the fd table
// entry does.
const oCloexec = 0x80000

func sysOpenat(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	dirfd := a.Int(0)
	pathAddr := a.Uintptr(1)
	flags := a.Int(2)
	mode := a.Int(3)

	path, err := c.AS().CopyInString(pathAddr, maxPathLen)
	if err != 0 {
		return fail(err)
	}
	base, err := c.baseInode(dirfd)
	if err != 0 {
		return fail(err)
	}
	file, err := c.FS.OpenAt(base, ustr.Ustr(path), flags&^oCloexec, mode)
	if err != 0 {
		return fail(err)
	}
	fdno := c.Task.Group.Files.Install(&fd.Entry{File: file, Perms: permsFromOpenFlags(flags)})
	return ok(uintptr(fdno))
}

func sysRead(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	bufAddr := a.Uintptr(1)
	count := a.Uintptr(2)

	e, ok := c.Task.Group.Files.Get(fdno)
	if !ok {
		return fail(errno.EBADF)
	}
	buf := make([]byte, count)
	n, err := e.File.Read(buf, e.Pos())
	if err != 0 {
		return fail(err)
	}
	if n > 0 {
		if werr := c.AS().CopyOut(bufAddr, buf[:n]); werr != 0 {
			return fail(werr)
		}
		e.Advance(n)
	}
	return ok(uintptr(n))
}

func sysWrite(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	bufAddr := a.Uintptr(1)
	count := a.Uintptr(2)

	e, ok := c.Task.Group.Files.Get(fdno)
	if !ok {
		return fail(errno.EBADF)
	}
	buf := make([]byte, count)
	if err := c.AS().CopyIn(bufAddr, buf); err != 0 {
		return fail(err)
	}
	n, err := e.File.Write(buf, e.Pos())
	if err != 0 {
		return fail(err)
	}
	e.Advance(n)
	return ok(uintptr(n))
}

func sysClose(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	if err := c.Task.Group.Files.Close(fdno); err != 0 {
		return fail(err)
	}
	return ok0()
}

// direntHeaderSize is sizeof(struct linux_dirent64) before the
// NUL-terminated d_name that follows it: d_ino(8) + d_off(8) +
// d_reclen(2) + d_type(1), then d_name.
const direntHeaderSize = 19

func direntType(k tmpfs.InodeKind) byte {
	if k == tmpfs.KindDir {
		return 4 // DT_DIR
	}
	return 8 // DT_REG
}

// encodeDirents renders entries in the struct linux_dirent64 wire
// format getdents64(2) callers expect, each record padded to an 8-byte
// boundary, stopping (without error) once the next record would not fit
// in limit bytes — the real syscall's "buffer too small, call again"
// contract rather than ERANGE.
func encodeDirents(entries []tmpfs.Dirent, limit int) []byte {
	out := make([]byte, 0, limit)
	for i, d := range entries {
		reclen := direntHeaderSize + len(d.Name) + 1
		reclen = (reclen + 7) &^ 7
		if len(out)+reclen > limit {
			break
		}
		rec := make([]byte, reclen)
		binary.LittleEndian.PutUint64(rec[0:8], uint64(i+1)) // d_ino: no stable inode numbers kept, index suffices
		binary.LittleEndian.PutUint64(rec[8:16], uint64(i+1))
		binary.LittleEndian.PutUint16(rec[16:18], uint16(reclen))
		rec[18] = direntType(d.Kind)
		copy(rec[direntHeaderSize:], d.Name)
		out = append(out, rec...)
	}
	return out
}

func sysGetdents64(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	bufAddr := a.Uintptr(1)
	count := a.Uintptr(2)

	if c.FS == nil {
		return fail(errno.ENOSYS)
	}
	e, ok := c.Task.Group.Files.Get(fdno)
	if !ok {
		return fail(errno.EBADF)
	}
	tf, ok := e.File.(*tmpfs.File)
	if !ok {
		return fail(errno.ENOTDIR)
	}
	entries, err := c.FS.Readdir(tf.Inode())
	if err != 0 {
		return fail(err)
	}

	// Repeated calls resume after whatever this descriptor's offset
	// already walked past, the same "cursor into the entry stream"
	// getdents64 uses on a real directory file.
	start := int(e.Pos())
	if start > len(entries) {
		start = len(entries)
	}
	buf := encodeDirents(entries[start:], int(count))
	if len(buf) == 0 {
		return ok(0)
	}
	if werr := c.AS().CopyOut(bufAddr, buf); werr != 0 {
		return fail(werr)
	}
	consumed := countEncodedEntries(entries[start:], len(buf))
	e.Advance(consumed)
	return ok(uintptr(len(buf)))
}

// countEncodedEntries re-derives how many of entries encodeDirents
// actually fit in encodedLen bytes, so the descriptor's cursor advances
// by entries, not bytes.
func countEncodedEntries(entries []tmpfs.Dirent, encodedLen int) int {
	used := 0
	for i, d := range entries {
		reclen := direntHeaderSize + len(d.Name) + 1
		reclen = (reclen + 7) &^ 7
		if used+reclen > encodedLen {
			return i
		}
		used += reclen
	}
	return len(entries)
}
