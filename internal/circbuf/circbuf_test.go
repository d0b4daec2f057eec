package circbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(8)
	n := b.Write([]byte("hello"))
	require.Equal(t, 5, n)
	require.Equal(t, 5, b.Len())

	out := make([]byte, 5)
	got := b.Read(out)
	require.Equal(t, 5, got)
	require.Equal(t, "hello", string(out))
	require.True(t, b.Empty())
}

func TestWriteWrapsWhenFull(t *testing.T) {
	b := New(4)
	b.Write([]byte("abcd"))
	require.Equal(t, 4, b.Len())
	b.Write([]byte("ef")) // overwrites "ab"

	out := b.Drain()
	require.Equal(t, "cdef", string(out))
}

func TestDrainEmptiesBuffer(t *testing.T) {
	b := New(8)
	b.Write([]byte("xyz"))
	out := b.Drain()
	require.Equal(t, "xyz", string(out))
	require.True(t, b.Empty())
	require.Equal(t, 0, b.Len())
}

func TestReadPartialLeavesRemainder(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef"))
	out := make([]byte, 3)
	b.Read(out)
	require.Equal(t, "abc", string(out))
	require.Equal(t, 3, b.Len())
	require.Equal(t, "def", string(b.Drain()))
}
