package netstub

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"riscix/internal/errno"
)

func inetAddr(port uint16, ip [4]byte) Addr {
	return Addr{Family: unix.AF_INET, Port: port, IP: ip}
}

func TestBindThenSendToThenRecvFrom(t *testing.T) {
	loopback := [4]byte{127, 0, 0, 1}
	server := NewSocket(unix.AF_INET)
	require.Equal(t, errno.Err_t(0), server.Bind(inetAddr(9001, loopback)))
	defer server.Close()

	client := NewSocket(unix.AF_INET)
	defer client.Close()

	n, err := client.SendTo([]byte("ping"), &Addr{Family: unix.AF_INET, Port: 9001, IP: loopback})
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, from, rerr := server.RecvFrom(buf)
	require.Equal(t, errno.Err_t(0), rerr)
	require.Equal(t, "ping", string(buf[:n]))
	require.Equal(t, uint16(0), from.Port) // client was never bound
}

func TestSendToUnboundAddressReturnsECONNREFUSED(t *testing.T) {
	client := NewSocket(unix.AF_INET)
	defer client.Close()
	_, err := client.SendTo([]byte("x"), &Addr{Family: unix.AF_INET, Port: 9999, IP: [4]byte{10, 0, 0, 1}})
	require.Equal(t, errno.ECONNREFUSED, err)
}

func TestConnectThenSendToUsesPeer(t *testing.T) {
	loopback := [4]byte{127, 0, 0, 1}
	server := NewSocket(unix.AF_INET)
	server.Bind(inetAddr(9002, loopback))
	defer server.Close()

	client := NewSocket(unix.AF_INET)
	defer client.Close()
	require.Equal(t, errno.Err_t(0), client.Connect(inetAddr(9002, loopback)))

	n, err := client.SendTo([]byte("hi"), nil)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, 2, n)

	buf := make([]byte, 8)
	n, _, rerr := server.RecvFrom(buf)
	require.Equal(t, errno.Err_t(0), rerr)
	require.Equal(t, "hi", string(buf[:n]))
}

func TestRecvFromEmptyInboxReturnsEAGAIN(t *testing.T) {
	s := NewSocket(unix.AF_INET)
	defer s.Close()
	_, _, err := s.RecvFrom(make([]byte, 8))
	require.Equal(t, errno.EAGAIN, err)
}

func TestBindDuplicateAddressReturnsEADDRINUSE(t *testing.T) {
	loopback := [4]byte{127, 0, 0, 1}
	a := NewSocket(unix.AF_INET)
	defer a.Close()
	b := NewSocket(unix.AF_INET)
	defer b.Close()

	require.Equal(t, errno.Err_t(0), a.Bind(inetAddr(9010, loopback)))
	require.Equal(t, errno.EADDRINUSE, b.Bind(inetAddr(9010, loopback)))
}

func TestCloseRemovesBoundAddressFromRegistry(t *testing.T) {
	loopback := [4]byte{127, 0, 0, 1}
	a := NewSocket(unix.AF_INET)
	require.Equal(t, errno.Err_t(0), a.Bind(inetAddr(9011, loopback)))
	require.Equal(t, errno.Err_t(0), a.Close())

	b := NewSocket(unix.AF_INET)
	defer b.Close()
	require.Equal(t, errno.Err_t(0), b.Bind(inetAddr(9011, loopback)))
}

func TestDecodeEncodeSockaddrInetRoundTrips(t *testing.T) {
	addr := inetAddr(8080, [4]byte{192, 168, 1, 1})
	wire := EncodeSockaddr(addr)
	decoded, err := DecodeSockaddr(wire)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, addr, decoded)
}

func TestDecodeEncodeSockaddrUnixRoundTrips(t *testing.T) {
	addr := Addr{Family: unix.AF_UNIX, Path: "/tmp/riscix.sock"}
	wire := EncodeSockaddr(addr)
	decoded, err := DecodeSockaddr(wire)
	require.Equal(t, errno.Err_t(0), err)
	require.Equal(t, addr, decoded)
}

func TestDecodeSockaddrUnknownFamilyReturnsENOTSOCK(t *testing.T) {
	buf := make([]byte, 8)
	buf[0], buf[1] = 0xFF, 0xFF
	_, err := DecodeSockaddr(buf)
	require.Equal(t, errno.ENOTSOCK, err)
}
