package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"riscix/internal/blockdev"
	"riscix/internal/errno"
	"riscix/internal/fd"
	"riscix/internal/tmpfs"
)

// withFS attaches a fresh tmpfs backed by a small in-memory blockdev to c,
// the setup every openat/read/write/close/getdents64 test needs beyond
// newTestContext's bare address space and task table.
func withFS(t *testing.T, c *Context) *tmpfs.Fs {
	t.Helper()
	fs := tmpfs.New(blockdev.New(64))
	c.FS = fs
	return fs
}

func copyInAddr(t *testing.T, c *Context, addr uintptr, s string) {
	t.Helper()
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	require.Equal(t, errno.Err_t(0), c.AS().CopyOut(addr, buf))
}

func TestSysOpenatCreatesAndReturnsFd(t *testing.T) {
	c, _ := newTestContext(t)
	withFS(t, c)
	copyInAddr(t, c, 0x10000, "hello.txt")

	ret, err, outcome := sysOpenat(c, NewArgs([6]uintptr{uintptr(int64(AtFdcwd)), 0x10000, tmpfs.OCreat | tmpfs.ORdwr, 0644}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)

	_, ok := c.Task.Group.Files.Get(int(ret))
	require.True(t, ok)
}

func TestSysWriteThenReadRoundTrips(t *testing.T) {
	c, _ := newTestContext(t)
	withFS(t, c)
	copyInAddr(t, c, 0x10000, "a.txt")

	fdRet, err, _ := sysOpenat(c, NewArgs([6]uintptr{uintptr(int64(AtFdcwd)), 0x10000, tmpfs.OCreat | tmpfs.ORdwr, 0644}))
	require.Equal(t, errno.Err_t(0), err)
	fdno := int(fdRet)

	copyInAddr(t, c, 0x11000, "payload")
	n, err, _ := sysWrite(c, NewArgs([6]uintptr{uintptr(fdno), 0x11000, 7, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(7), n)

	e, _ := c.Task.Group.Files.Get(fdno)
	e.SeekTo(0)

	n, err, _ = sysRead(c, NewArgs([6]uintptr{uintptr(fdno), 0x12000, 16, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(7), n)

	got := make([]byte, 7)
	require.Equal(t, errno.Err_t(0), c.AS().CopyIn(0x12000, got))
	require.Equal(t, "payload", string(got))
}

func TestSysCloseRemovesEntry(t *testing.T) {
	c, _ := newTestContext(t)
	withFS(t, c)
	copyInAddr(t, c, 0x10000, "a.txt")
	fdRet, _, _ := sysOpenat(c, NewArgs([6]uintptr{uintptr(int64(AtFdcwd)), 0x10000, tmpfs.OCreat | tmpfs.ORdwr, 0644}))
	fdno := int(fdRet)

	_, err, _ := sysClose(c, NewArgs([6]uintptr{uintptr(fdno), 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)

	_, ok := c.Task.Group.Files.Get(fdno)
	require.False(t, ok)
}

func TestSysReadBadFdReturnsEBADF(t *testing.T) {
	c, _ := newTestContext(t)
	withFS(t, c)
	_, err, _ := sysRead(c, NewArgs([6]uintptr{99, 0x10000, 16, 0, 0, 0}))
	require.Equal(t, errno.EBADF, err)
}

func TestSysGetdents64ListsRootEntries(t *testing.T) {
	c, _ := newTestContext(t)
	fs := withFS(t, c)
	require.Equal(t, errno.Err_t(0), fs.Mkdir(nil, []byte("/sub"), 0755))
	_, err := fs.OpenAt(nil, []byte("/file"), tmpfs.OCreat|tmpfs.ORdwr, 0644)
	require.Equal(t, errno.Err_t(0), err)

	fdno := c.Task.Group.Files.Install(&fd.Entry{File: fs.OpenRoot(), Perms: fd.Read})

	n, derr, _ := sysGetdents64(c, NewArgs([6]uintptr{uintptr(fdno), 0x11000, 4096, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), derr)
	require.NotZero(t, n)
}

func TestSysGetdents64OnRegularFileReturnsENOTDIR(t *testing.T) {
	c, _ := newTestContext(t)
	withFS(t, c)
	copyInAddr(t, c, 0x10000, "a.txt")
	fdRet, _, _ := sysOpenat(c, NewArgs([6]uintptr{uintptr(int64(AtFdcwd)), 0x10000, tmpfs.OCreat | tmpfs.ORdwr, 0644}))

	_, err, _ := sysGetdents64(c, NewArgs([6]uintptr{fdRet, 0x11000, 4096, 0, 0, 0}))
	require.Equal(t, errno.ENOTDIR, err)
}

func TestPermsFromOpenFlags(t *testing.T) {
	require.Equal(t, fd.Read, permsFromOpenFlags(tmpfs.ORdonly))
	require.Equal(t, fd.Write, permsFromOpenFlags(tmpfs.OWronly))
	require.Equal(t, fd.Read|fd.Write, permsFromOpenFlags(tmpfs.ORdwr))
	require.Equal(t, fd.Read|fd.CloExec, permsFromOpenFlags(tmpfs.ORdonly|oCloexec))
}
