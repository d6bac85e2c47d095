//go:build linux

// File: reactor/listen_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-transport/api"
)

// maxAcceptsPerEvent bounds the accept burst of one readiness event.
const maxAcceptsPerEvent = 64

// Listener is a listening TCP or unix socket.
type Listener struct {
	thread  *Thread
	kind    HandleKind
	fd      int
	addr    net.Addr
	noDelay bool
	onConn  ConnectionFunc

	pendingFd int
	pendingSa unix.Sockaddr
	closed    bool
}

// Listen binds ep and starts accepting. cb runs on the loop for every
// pending connection. Loop only.
func (t *Thread) Listen(ep Endpoint, opts ListenOptions, cb ConnectionFunc) (ListenHandle, error) {
	domain, sa, err := endpointSockaddr(ep)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket %s: %w", ep, err)
	}
	if domain != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("reactor: SO_REUSEADDR %s: %w", ep, err)
		}
		if opts.ReusePort {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("reactor: SO_REUSEPORT %s: %w", ep, err)
			}
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind %s: %w", ep, err)
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = ListenBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen %s: %w", ep, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: getsockname %s: %w", ep, err)
	}

	l := &Listener{
		thread:    t,
		kind:      ep.Kind(),
		fd:        fd,
		addr:      sockaddrToAddr(bound),
		noDelay:   opts.NoDelay,
		onConn:    cb,
		pendingFd: -1,
	}
	if err := t.watch(fd, l, unix.EPOLLIN); err != nil {
		unix.Close(fd)
		return nil, err
	}
	t.Register(l)
	return l, nil
}

func (l *Listener) Kind() HandleKind { return l.kind }
func (l *Listener) IsClosed() bool   { return l.closed }
func (l *Listener) Addr() net.Addr   { return l.addr }

// Accept moves the pending connection into into. Valid only inside the
// ConnectionFunc.
func (l *Listener) Accept(into StreamHandle) error {
	s, ok := into.(*Socket)
	if !ok {
		return Errno(EINVAL)
	}
	if l.pendingFd < 0 {
		return Errno(EAGAIN)
	}
	fd, sa := l.pendingFd, l.pendingSa
	l.pendingFd, l.pendingSa = -1, nil

	if l.kind == KindTCP && l.noDelay {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	local := l.addr
	if la, err := unix.Getsockname(fd); err == nil {
		if a := sockaddrToAddr(la); a != nil {
			local = a
		}
	}
	remote := sockaddrToAddr(sa)
	if remote == nil {
		remote = &net.UnixAddr{Net: "unix"}
	}
	return s.open(fd, local, remote)
}

// Close stops accepting and closes the descriptor.
func (l *Listener) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.thread.unwatch(l.fd)
	unix.Close(l.fd)
	l.thread.Unregister(l)
}

func (l *Listener) handleEvents(events uint32) {
	for i := 0; i < maxAcceptsPerEvent && !l.closed; i++ {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if err != unix.EAGAIN {
				l.onConn(l, statusOf(err))
			}
			return
		}
		l.pendingFd, l.pendingSa = fd, sa
		l.onConn(l, 0)
		if l.pendingFd >= 0 {
			unix.Close(l.pendingFd)
			l.pendingFd, l.pendingSa = -1, nil
		}
	}
}

func endpointSockaddr(ep Endpoint) (int, unix.Sockaddr, error) {
	switch ep.Network {
	case "unix":
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: ep.Address}, nil
	case "tcp", "tcp4", "tcp6":
		addr, err := net.ResolveTCPAddr(ep.Network, ep.Address)
		if err != nil {
			return 0, nil, fmt.Errorf("reactor: resolve %s: %w", ep, err)
		}
		if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
			sa := &unix.SockaddrInet4{Port: addr.Port}
			if ip4 != nil {
				copy(sa.Addr[:], ip4)
			}
			return unix.AF_INET, sa, nil
		}
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], addr.IP.To16())
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, api.ErrUnsupportedListenType
}
