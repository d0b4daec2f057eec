// Package netstub is a loopback-only socket/bind/connect/sendto/recvfrom
// implementation over Go channels, standing in for the pack's bnet/unet/
// inet packages (each retrieved as a bare go.mod with no source) so the
// syscall dispatch table has real handlers for the socket syscall family
// instead of blanket ENOSYS. There is no real network device underneath:
// every bound address lives in this process's in-memory registry, and
// delivery is a direct channel send to the destination socket.
package netstub

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"riscix/internal/errno"
)

// Addr is a decoded socket address: either an AF_INET endpoint (IP/Port)
// or an AF_UNIX path, matching the wire layouts of
// unix.RawSockaddrInet4/unix.RawSockaddrUnix.
type Addr struct {
	Family uint16
	Port   uint16
	IP     [4]byte
	Path   string
}

func (a Addr) key() string {
	if a.Family == unix.AF_UNIX {
		return "unix:" + a.Path
	}
	return fmt.Sprintf("inet:%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// DecodeSockaddr parses a raw struct sockaddr buffer (as a syscall
// argument arrives) into an Addr, reading the AF_INET/AF_UNIX wire
// layouts golang.org/x/sys/unix defines byte-for-byte. The port field is
// read big-endian (network byte order), matching real struct sockaddr_in.
func DecodeSockaddr(buf []byte) (Addr, errno.Err_t) {
	if len(buf) < 2 {
		return Addr{}, errno.EINVAL
	}
	family := binary.LittleEndian.Uint16(buf[0:2])
	switch family {
	case unix.AF_INET:
		if len(buf) < 8 {
			return Addr{}, errno.EINVAL
		}
		var ip [4]byte
		copy(ip[:], buf[4:8])
		return Addr{Family: family, Port: binary.BigEndian.Uint16(buf[2:4]), IP: ip}, 0
	case unix.AF_UNIX:
		end := len(buf)
		for i := 2; i < len(buf); i++ {
			if buf[i] == 0 {
				end = i
				break
			}
		}
		return Addr{Family: family, Path: string(buf[2:end])}, 0
	default:
		return Addr{}, errno.ENOTSOCK
	}
}

// EncodeSockaddr renders a into the raw struct sockaddr byte layout
// DecodeSockaddr reads back, for recvfrom's "from" output parameter.
func EncodeSockaddr(a Addr) []byte {
	if a.Family == unix.AF_UNIX {
		out := make([]byte, 2+len(a.Path)+1)
		binary.LittleEndian.PutUint16(out[0:2], a.Family)
		copy(out[2:], a.Path)
		return out
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[0:2], a.Family)
	binary.BigEndian.PutUint16(out[2:4], a.Port)
	copy(out[4:8], a.IP[:])
	return out
}

type packet struct {
	data []byte
	from Addr
}

// Socket is one loopback datagram endpoint. The zero value is not
// usable; construct with NewSocket.
type Socket struct {
	mu     sync.Mutex
	family uint16
	local  Addr
	bound  bool
	peer   *Addr
	inbox  chan packet
	closed bool
}

const inboxDepth = 64

// NewSocket returns an unbound, unconnected socket of the given address
// family (unix.AF_INET or unix.AF_UNIX).
func NewSocket(family uint16) *Socket {
	return &Socket{family: family, inbox: make(chan packet, inboxDepth)}
}

var (
	regMu    sync.Mutex
	registry = map[string]*Socket{}
)

// Bind registers the socket at addr so other sockets' SendTo/Connect can
// reach it. A socket can be bound only once; binding an address already
// in use fails with EADDRINUSE.
func (s *Socket) Bind(addr Addr) errno.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return errno.EINVAL
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := registry[addr.key()]; exists {
		return errno.EADDRINUSE
	}
	registry[addr.key()] = s
	s.local = addr
	s.bound = true
	return 0
}

// Connect records addr as this socket's default destination for SendTo
// and validates that some socket is currently bound there; datagram
// sockets have no handshake, so this is a reachability check rather than
// a real connection setup.
func (s *Socket) Connect(addr Addr) errno.Err_t {
	regMu.Lock()
	_, ok := registry[addr.key()]
	regMu.Unlock()
	if !ok {
		return errno.ECONNREFUSED
	}
	s.mu.Lock()
	a := addr
	s.peer = &a
	s.mu.Unlock()
	return 0
}

// SendTo delivers data to addr (or this socket's connected peer if addr
// is nil), returning ECONNREFUSED if nothing is bound there and EAGAIN
// if the destination's inbox is full.
func (s *Socket) SendTo(data []byte, addr *Addr) (int, errno.Err_t) {
	s.mu.Lock()
	dest := addr
	if dest == nil {
		dest = s.peer
	}
	local := s.local
	s.mu.Unlock()
	if dest == nil {
		return 0, errno.ENOTCONN
	}

	regMu.Lock()
	target, ok := registry[dest.key()]
	regMu.Unlock()
	if !ok {
		return 0, errno.ECONNREFUSED
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case target.inbox <- packet{data: cp, from: local}:
	default:
		return 0, errno.EAGAIN
	}
	return len(data), 0
}

// RecvFrom returns the next queued datagram and its sender, or EAGAIN if
// none is queued (this stub has no blocking receive; a caller wanting to
// block polls through the futex/nanosleep path like any other
// would-block syscall).
func (s *Socket) RecvFrom(buf []byte) (int, Addr, errno.Err_t) {
	select {
	case pkt := <-s.inbox:
		return copy(buf, pkt.data), pkt.from, 0
	default:
		return 0, Addr{}, errno.EAGAIN
	}
}

// Close releases the socket's registry entry, if any. Safe to call more
// than once.
func (s *Socket) Close() errno.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.closed = true
	if s.bound {
		regMu.Lock()
		delete(registry, s.local.key())
		regMu.Unlock()
	}
	return 0
}
