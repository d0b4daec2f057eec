package fd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"riscix/internal/errno"
	"riscix/internal/fdops"
	"riscix/internal/ustr"
)

type fakeFile struct {
	name    string
	closed  bool
	reopens int
}

func (f *fakeFile) Read(p []byte, offset int64) (int, errno.Err_t)  { return 0, 0 }
func (f *fakeFile) Write(p []byte, offset int64) (int, errno.Err_t) { return len(p), 0 }
func (f *fakeFile) Close() errno.Err_t                              { f.closed = true; return 0 }
func (f *fakeFile) Reopen() (fdops.File, errno.Err_t) {
	f.reopens++
	return &fakeFile{name: f.name}, 0
}

func TestInstallAssignsLowestFreeNumber(t *testing.T) {
	tbl := NewTable()
	a := tbl.Install(&Entry{File: &fakeFile{name: "a"}})
	b := tbl.Install(&Entry{File: &fakeFile{name: "b"}})
	require.Equal(t, 0, a)
	require.Equal(t, 1, b)
}

func TestGetAndClose(t *testing.T) {
	tbl := NewTable()
	f := &fakeFile{name: "x"}
	n := tbl.Install(&Entry{File: f})

	e, ok := tbl.Get(n)
	require.True(t, ok)
	require.Same(t, f, e.File)

	require.Equal(t, errno.Err_t(0), tbl.Close(n))
	require.True(t, f.closed)
	_, ok = tbl.Get(n)
	require.False(t, ok)
}

func TestCloseUnknownFdReturnsEBADF(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, errno.EBADF, tbl.Close(42))
}

func TestDup2ClosesPreviousOccupant(t *testing.T) {
	tbl := NewTable()
	src := &fakeFile{name: "src"}
	old := &fakeFile{name: "old"}
	s := tbl.Install(&Entry{File: src})
	d := tbl.Install(&Entry{File: old})

	require.Equal(t, errno.Err_t(0), tbl.Dup2(s, d))
	require.True(t, old.closed)
	require.Equal(t, 1, src.reopens)

	e, _ := tbl.Get(d)
	require.NotSame(t, src, e.File)
}

func TestForkSkipsCloExecAndReopensRest(t *testing.T) {
	tbl := NewTable()
	keep := &fakeFile{name: "keep"}
	drop := &fakeFile{name: "drop"}
	tbl.Install(&Entry{File: keep})
	tbl.Install(&Entry{File: drop, Perms: CloExec})

	child, err := tbl.Fork()
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 1, keep.reopens)
	require.Equal(t, 0, drop.reopens)

	_, ok := child.Get(0)
	require.True(t, ok)
	_, ok = child.Get(1)
	require.False(t, ok)
}

func TestCwdFullpathRelativeAndAbsolute(t *testing.T) {
	cwd := NewRootCwd(&Entry{File: &fakeFile{name: "/"}})
	require.Equal(t, ustr.Ustr("/etc/passwd"), cwd.Fullpath(ustr.Ustr("/etc/passwd")))

	cwd.Chdir(&Entry{File: &fakeFile{name: "/home"}}, ustr.Ustr("/home"))
	require.Equal(t, ustr.Ustr("/home/file.txt"), cwd.Fullpath(ustr.Ustr("file.txt")))
}

func TestEntryAdvanceAndSeekTo(t *testing.T) {
	e := &Entry{File: &fakeFile{name: "x"}}
	require.Equal(t, int64(0), e.Pos())
	e.Advance(5)
	require.Equal(t, int64(5), e.Pos())
	e.SeekTo(100)
	require.Equal(t, int64(100), e.Pos())
}

func TestCloseOnExecRemovesOnlyFlaggedEntries(t *testing.T) {
	tbl := NewTable()
	keep := &fakeFile{name: "keep"}
	drop := &fakeFile{name: "drop"}
	tbl.Install(&Entry{File: keep})
	tbl.Install(&Entry{File: drop, Perms: CloExec})

	tbl.CloseOnExec()

	require.False(t, keep.closed)
	require.True(t, drop.closed)
	_, ok := tbl.Get(0)
	require.True(t, ok)
	_, ok = tbl.Get(1)
	require.False(t, ok)
}

func TestCwdForkReopensDirAndSharesPath(t *testing.T) {
	dir := &fakeFile{name: "/"}
	cwd := NewRootCwd(&Entry{File: dir})

	child, err := cwd.Fork()
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 1, dir.reopens)
	require.Equal(t, ustr.Root, child.Path)
	require.NotSame(t, cwd.Dir, child.Dir)

	cwd.Chdir(&Entry{File: &fakeFile{name: "/var"}}, ustr.Ustr("/var"))
	require.Equal(t, ustr.Root, child.Path, "forked Cwd must not see the parent's later chdir")
}
