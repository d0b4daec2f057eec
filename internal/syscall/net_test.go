package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"riscix/internal/errno"
	"riscix/internal/netstub"
)

func copyInSockaddr(t *testing.T, c *Context, addr uintptr, a netstub.Addr) int {
	t.Helper()
	raw := netstub.EncodeSockaddr(a)
	require.Equal(t, errno.Err_t(0), c.AS().CopyOut(addr, raw))
	return len(raw)
}

func TestSysSocketInstallsFd(t *testing.T) {
	c, _ := newTestContext(t)
	ret, err, outcome := sysSocket(c, NewArgs([6]uintptr{uintptr(unix.AF_INET), 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, Continue, outcome)

	_, ok := c.Task.Group.Files.Get(int(ret))
	require.True(t, ok)
}

func TestSysSocketRejectsUnsupportedFamily(t *testing.T) {
	c, _ := newTestContext(t)
	_, err, _ := sysSocket(c, NewArgs([6]uintptr{99, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.ENOTIMPL, err)
}

func TestSysBindThenSendtoThenRecvfrom(t *testing.T) {
	c, _ := newTestContext(t)

	serverRet, err, _ := sysSocket(c, NewArgs([6]uintptr{uintptr(unix.AF_INET), 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)
	serverAddr := netstub.Addr{Family: unix.AF_INET, IP: [4]byte{127, 0, 0, 1}, Port: 9000}
	alen := copyInSockaddr(t, c, 0x10000, serverAddr)
	_, err, _ = sysBind(c, NewArgs([6]uintptr{serverRet, 0x10000, uintptr(alen), 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)

	clientRet, err, _ := sysSocket(c, NewArgs([6]uintptr{uintptr(unix.AF_INET), 0, 0, 0, 0, 0}))
	require.Equal(t, errno.Err_t(0), err)

	payload := []byte("ping")
	require.Equal(t, errno.Err_t(0), c.AS().CopyOut(0x11000, payload))
	n, err, _ := sysSendto(c, NewArgs([6]uintptr{clientRet, 0x11000, uintptr(len(payload)), 0, 0x10000, uintptr(alen)}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(len(payload)), n)

	n, err, _ = sysRecvfrom(c, NewArgs([6]uintptr{serverRet, 0x12000, 64, 0, 0x13000, 0}))
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, uintptr(len(payload)), n)

	got := make([]byte, len(payload))
	require.Equal(t, errno.Err_t(0), c.AS().CopyIn(0x12000, got))
	require.Equal(t, payload, got)
}

func TestSysConnectToUnboundAddrFails(t *testing.T) {
	c, _ := newTestContext(t)
	ret, _, _ := sysSocket(c, NewArgs([6]uintptr{uintptr(unix.AF_INET), 0, 0, 0, 0, 0}))
	alen := copyInSockaddr(t, c, 0x10000, netstub.Addr{Family: unix.AF_INET, IP: [4]byte{10, 0, 0, 1}, Port: 1})
	_, err, _ := sysConnect(c, NewArgs([6]uintptr{ret, 0x10000, uintptr(alen), 0, 0, 0}))
	require.Equal(t, errno.ECONNREFUSED, err)
}

func TestSocketOpOnRegularFdReturnsENOTSOCK(t *testing.T) {
	c, _ := newTestContext(t)
	withFS(t, c)
	copyInAddr(t, c, 0x10000, "a.txt")
	fdRet, _, _ := sysOpenat(c, NewArgs([6]uintptr{uintptr(int64(AtFdcwd)), 0x10000, 0x40 | 0x2, 0644}))

	_, err, _ := sysBind(c, NewArgs([6]uintptr{fdRet, 0, 0, 0, 0, 0}))
	require.Equal(t, errno.ENOTSOCK, err)
}
