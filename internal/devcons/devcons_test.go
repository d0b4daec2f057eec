package devcons

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"riscix/internal/errno"
)

func TestWriteFlushesImmediately(t *testing.T) {
	var buf bytes.Buffer
	c := New(0, &buf)
	n, err := c.Write([]byte("hello\n"), 0)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 6, n)
	require.Equal(t, "hello\n", buf.String())
}

func TestPutcharBatchesUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	c := New(0, &buf)
	c.Putchar('a')
	c.Putchar('b')
	require.Equal(t, "", buf.String())
	c.Flush()
	require.Equal(t, "ab", buf.String())
}

func TestReadAlwaysFails(t *testing.T) {
	c := New(0, &bytes.Buffer{})
	n, err := c.Read(make([]byte, 4), 0)
	require.Equal(t, -1, n)
	require.Equal(t, errno.EIO, err)
}

func TestCloseFlushesPending(t *testing.T) {
	var buf bytes.Buffer
	c := New(0, &buf)
	c.Putchar('z')
	require.Equal(t, errno.Err_t(0), c.Close())
	require.Equal(t, "z", buf.String())
}

func TestReopenReturnsSameInstance(t *testing.T) {
	c := New(0, &bytes.Buffer{})
	r, err := c.Reopen()
	require.Equal(t, errno.Err_t(0), err)
	require.Same(t, c, r)
}
