package syscall

import (
	"golang.org/x/sys/unix"

	"riscix/internal/errno"
	"riscix/internal/fd"
	"riscix/internal/fdops"
	"riscix/internal/netstub"
)

// sockFile adapts a netstub.Socket (SendTo/RecvFrom with an explicit
// peer address) to the plain offset-based fdops.File interface the
// descriptor table expects, the way a real kernel's socket struct file
// operations differ from a regular file's but still hang off the same
// fd table. Socket reads/writes ignore the offset argument: datagram
// sockets have no seek position.
type sockFile struct {
	sock *netstub.Socket
}

var _ fdops.File = (*sockFile)(nil)

func (s *sockFile) Read(p []byte, _ int64) (int, errno.Err_t) {
	n, _, err := s.sock.RecvFrom(p)
	return n, err
}

func (s *sockFile) Write(p []byte, _ int64) (int, errno.Err_t) {
	return s.sock.SendTo(p, nil)
}

func (s *sockFile) Close() errno.Err_t {
	return s.sock.Close()
}

func (s *sockFile) Reopen() (fdops.File, errno.Err_t) {
	return s, 0
}

func sysSocket(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	family := uint16(a.Int(0))
	if family != unix.AF_INET && family != unix.AF_UNIX {
		return fail(errno.ENOTIMPL)
	}
	sock := netstub.NewSocket(family)
	fdno := c.Task.Group.Files.Install(&fd.Entry{File: &sockFile{sock: sock}, Perms: fd.Read | fd.Write})
	return ok(uintptr(fdno))
}

// socketFor looks up fdno and asserts it names a socket, the common
// prelude to every handler below.
func (c *Context) socketFor(fdno int) (*netstub.Socket, errno.Err_t) {
	e, ok := c.Task.Group.Files.Get(fdno)
	if !ok {
		return nil, errno.EBADF
	}
	sf, ok := e.File.(*sockFile)
	if !ok {
		return nil, errno.ENOTSOCK
	}
	return sf.sock, 0
}

func sysBind(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	addrAddr := a.Uintptr(1)
	addrLen := a.Uintptr(2)

	sock, err := c.socketFor(fdno)
	if err != 0 {
		return fail(err)
	}
	raw := make([]byte, addrLen)
	if err := c.AS().CopyIn(addrAddr, raw); err != 0 {
		return fail(err)
	}
	addr, err := netstub.DecodeSockaddr(raw)
	if err != 0 {
		return fail(err)
	}
	if err := sock.Bind(addr); err != 0 {
		return fail(err)
	}
	return ok0()
}

func sysConnect(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	addrAddr := a.Uintptr(1)
	addrLen := a.Uintptr(2)

	sock, err := c.socketFor(fdno)
	if err != 0 {
		return fail(err)
	}
	raw := make([]byte, addrLen)
	if err := c.AS().CopyIn(addrAddr, raw); err != 0 {
		return fail(err)
	}
	addr, err := netstub.DecodeSockaddr(raw)
	if err != 0 {
		return fail(err)
	}
	if err := sock.Connect(addr); err != 0 {
		return fail(err)
	}
	return ok0()
}

func sysSendto(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	bufAddr := a.Uintptr(1)
	count := a.Uintptr(2)
	addrAddr := a.Uintptr(4)
	addrLen := a.Uintptr(5)

	sock, err := c.socketFor(fdno)
	if err != 0 {
		return fail(err)
	}
	buf := make([]byte, count)
	if err := c.AS().CopyIn(bufAddr, buf); err != 0 {
		return fail(err)
	}

	var dest *netstub.Addr
	if addrAddr != 0 {
		raw := make([]byte, addrLen)
		if err := c.AS().CopyIn(addrAddr, raw); err != 0 {
			return fail(err)
		}
		addr, err := netstub.DecodeSockaddr(raw)
		if err != 0 {
			return fail(err)
		}
		dest = &addr
	}
	n, err := sock.SendTo(buf, dest)
	if err != 0 {
		return fail(err)
	}
	return ok(uintptr(n))
}

func sysRecvfrom(c *Context, a Args) (uintptr, errno.Err_t, Outcome) {
	fdno := a.Int(0)
	bufAddr := a.Uintptr(1)
	count := a.Uintptr(2)
	fromAddr := a.Uintptr(4)

	sock, err := c.socketFor(fdno)
	if err != 0 {
		return fail(err)
	}
	buf := make([]byte, count)
	n, from, err := sock.RecvFrom(buf)
	if err != 0 {
		return fail(err)
	}
	if n > 0 {
		if werr := c.AS().CopyOut(bufAddr, buf[:n]); werr != 0 {
			return fail(werr)
		}
	}
	if fromAddr != 0 {
		encoded := netstub.EncodeSockaddr(from)
		if werr := c.AS().CopyOut(fromAddr, encoded); werr != 0 {
			return fail(werr)
		}
	}
	return ok(uintptr(n))
}
