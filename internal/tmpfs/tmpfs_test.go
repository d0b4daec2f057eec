package tmpfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"riscix/internal/blockdev"
	"riscix/internal/errno"
	"riscix/internal/ustr"
)

func newFs(t *testing.T) *Fs {
	t.Helper()
	return New(blockdev.New(256))
}

func TestOpenAtCreatesFile(t *testing.T) {
	fs := newFs(t)
	f, err := fs.OpenAt(nil, ustr.Ustr("/hello.txt"), OCreat|ORdwr, 0644)
	require.Equal(t, errno.Err_t(0), err)
	require.NotNil(t, f)
}

func TestOpenAtWithoutCreatOnMissingFileReturnsENOENT(t *testing.T) {
	fs := newFs(t)
	_, err := fs.OpenAt(nil, ustr.Ustr("/missing"), ORdonly, 0)
	require.Equal(t, errno.ENOENT, err)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	fs := newFs(t)
	f, _ := fs.OpenAt(nil, ustr.Ustr("/a.txt"), OCreat|ORdwr, 0644)

	n, err := f.Write([]byte("hello world"), 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 11, n)

	out := make([]byte, 11)
	n, err = f.Read(out, 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(out))
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fs := newFs(t)
	f, _ := fs.OpenAt(nil, ustr.Ustr("/big.bin"), OCreat|ORdwr, 0644)

	data := make([]byte, blockdev.BlockSize*3+100)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := f.Write(data, 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, len(data), n)

	out := make([]byte, len(data))
	n, err = f.Read(out, 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, out)
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	fs := newFs(t)
	f, _ := fs.OpenAt(nil, ustr.Ustr("/empty"), OCreat|ORdwr, 0644)
	out := make([]byte, 10)
	n, err := f.Read(out, 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 0, n)
}

func TestOpenAtOnDirectoryForWriteReturnsEISDIR(t *testing.T) {
	fs := newFs(t)
	require.Equal(t, errno.Err_t(0), fs.Mkdir(nil, ustr.Ustr("/d"), 0755))
	_, err := fs.OpenAt(nil, ustr.Ustr("/d"), OWronly, 0)
	require.Equal(t, errno.EISDIR, err)
}

func TestMkdirThenNestedFile(t *testing.T) {
	fs := newFs(t)
	require.Equal(t, errno.Err_t(0), fs.Mkdir(nil, ustr.Ustr("/etc"), 0755))
	f, err := fs.OpenAt(nil, ustr.Ustr("/etc/passwd"), OCreat|ORdwr, 0644)
	require.Equal(t, errno.Err_t(0), err)
	require.NotNil(t, f)
}

func TestMkdirOnExistingPathReturnsEEXIST(t *testing.T) {
	fs := newFs(t)
	fs.Mkdir(nil, ustr.Ustr("/etc"), 0755)
	require.Equal(t, errno.EEXIST, fs.Mkdir(nil, ustr.Ustr("/etc"), 0755))
}

func TestUnlinkRemovesFile(t *testing.T) {
	fs := newFs(t)
	fs.OpenAt(nil, ustr.Ustr("/x"), OCreat|ORdwr, 0644)
	require.Equal(t, errno.Err_t(0), fs.Unlink(nil, ustr.Ustr("/x")))
	_, err := fs.OpenAt(nil, ustr.Ustr("/x"), ORdonly, 0)
	require.Equal(t, errno.ENOENT, err)
}

func TestUnlinkNonEmptyDirReturnsENOTEMPTY(t *testing.T) {
	fs := newFs(t)
	fs.Mkdir(nil, ustr.Ustr("/d"), 0755)
	fs.OpenAt(nil, ustr.Ustr("/d/f"), OCreat|ORdwr, 0644)
	require.Equal(t, errno.ENOTEMPTY, fs.Unlink(nil, ustr.Ustr("/d")))
}

func TestGetdents64ListsChildren(t *testing.T) {
	fs := newFs(t)
	fs.Mkdir(nil, ustr.Ustr("/d"), 0755)
	fs.OpenAt(nil, ustr.Ustr("/d/one"), OCreat|ORdwr, 0644)
	fs.OpenAt(nil, ustr.Ustr("/d/two"), OCreat|ORdwr, 0644)

	ents, err := fs.Getdents64(nil, ustr.Ustr("/d"))
	require.Equal(t, errno.Err_t(0), err)
	require.Len(t, ents, 2)
	names := map[string]bool{}
	for _, e := range ents {
		names[e.Name] = true
		require.Equal(t, KindFile, e.Kind)
	}
	require.True(t, names["one"])
	require.True(t, names["two"])
}

func TestTruncOnOpenClearsContent(t *testing.T) {
	fs := newFs(t)
	f, _ := fs.OpenAt(nil, ustr.Ustr("/t"), OCreat|ORdwr, 0644)
	f.Write([]byte("hello"), 0)

	f2, err := fs.OpenAt(nil, ustr.Ustr("/t"), ORdwr|OTrunc, 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, int64(0), f2.Size())
}

func TestOpenAtRelativeToBaseDirectory(t *testing.T) {
	fs := newFs(t)
	fs.Mkdir(nil, ustr.Ustr("/home"), 0755)
	homeInode, err := fs.lookupInode(nil, ustr.Ustr("/home"))
	require.Equal(t, errno.Err_t(0), err)

	f, err := fs.OpenAt(homeInode, ustr.Ustr("profile"), OCreat|ORdwr, 0644)
	require.Equal(t, errno.Err_t(0), err)
	require.NotNil(t, f)

	_, err = fs.OpenAt(nil, ustr.Ustr("/home/profile"), ORdonly, 0)
	require.Equal(t, errno.Err_t(0), err)
}

func TestReopenSharesInode(t *testing.T) {
	fs := newFs(t)
	f, _ := fs.OpenAt(nil, ustr.Ustr("/r"), OCreat|ORdwr, 0644)
	f.Write([]byte("data"), 0)

	r, err := f.Reopen()
	require.Equal(t, errno.Err_t(0), err)
	out := make([]byte, 4)
	n, rerr := r.Read(out, 0)
	require.Equal(t, errno.Err_t(0), rerr)
	require.Equal(t, 4, n)
	require.Equal(t, "data", string(out))
}
