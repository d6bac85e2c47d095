//go:build linux

// File: reactor/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking stream sockets driven by the Thread's epoll loop.

package reactor

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// suggestedReadSize is passed to AllocFunc.
const suggestedReadSize = 64 * 1024

// Socket is a connected TCP or unix stream socket.
type Socket struct {
	thread *Thread
	kind   HandleKind
	fd     int

	local, remote net.Addr
	data          any

	alloc   AllocFunc
	read    ReadFunc
	reading bool

	writes       []*WriteReq
	writeBlocked bool

	events     uint32
	registered bool
	closed     bool
}

// NewStreamHandle creates an unopened socket of the given family and adds
// it to the handle table. Loop only.
func NewStreamHandle(t *Thread, kind HandleKind) (StreamHandle, error) {
	s := &Socket{thread: t, kind: kind, fd: -1}
	t.Register(s)
	return s, nil
}

func (s *Socket) open(fd int, local, remote net.Addr) error {
	if s.closed {
		unix.Close(fd)
		return Errno(EBADF)
	}
	s.fd = fd
	s.local, s.remote = local, remote
	return nil
}

func (s *Socket) Kind() HandleKind     { return s.kind }
func (s *Socket) IsClosed() bool       { return s.closed }
func (s *Socket) LocalAddr() net.Addr  { return s.local }
func (s *Socket) RemoteAddr() net.Addr { return s.remote }
func (s *Socket) UserData() any        { return s.data }
func (s *Socket) SetUserData(v any)    { s.data = v }

// ReadStart begins delivering reads until ReadStop, EOF or an error.
func (s *Socket) ReadStart(alloc AllocFunc, read ReadFunc) error {
	if s.closed || s.fd < 0 {
		return Errno(EBADF)
	}
	s.alloc, s.read = alloc, read
	s.reading = true
	return s.updateEvents()
}

// ReadStop stops delivering reads.
func (s *Socket) ReadStop() {
	if !s.reading {
		return
	}
	s.reading = false
	_ = s.updateEvents()
}

// Write queues bufs behind earlier writes.
func (s *Socket) Write(req *WriteReq, bufs [][]byte, cb WriteCallback) {
	req.Init(bufs, cb)
	if s.closed || s.fd < 0 {
		s.thread.queueCallback(func() { req.Complete(ECANCELED) })
		return
	}
	s.writes = append(s.writes, req)
	if len(s.writes) == 1 && !s.writeBlocked {
		s.flushWrites()
	}
}

// Close releases the descriptor and cancels queued writes.
func (s *Socket) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.reading = false
	if s.fd >= 0 {
		if s.registered {
			s.thread.unwatch(s.fd)
			s.registered = false
		}
		unix.Close(s.fd)
		s.fd = -1
	}
	writes := s.writes
	s.writes = nil
	for _, req := range writes {
		req := req
		s.thread.queueCallback(func() { req.Complete(ECANCELED) })
	}
	s.thread.Unregister(s)
}

func (s *Socket) handleEvents(events uint32) {
	if events&(evWrite|evError) != 0 && len(s.writes) > 0 {
		s.writeBlocked = false
		s.flushWrites()
	}
	if s.closed {
		return
	}
	if s.reading && events&(evRead|evError) != 0 {
		s.readOnce()
	}
}

func (s *Socket) readOnce() {
	buf := s.alloc(s, suggestedReadSize)
	if len(buf) == 0 {
		s.reading = false
		_ = s.updateEvents()
		s.read(s, ENOBUFS)
		return
	}
	n, err := unix.Read(s.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		s.read(s, 0)
	case err != nil:
		s.reading = false
		_ = s.updateEvents()
		s.read(s, statusOf(err))
	case n == 0:
		s.reading = false
		_ = s.updateEvents()
		s.read(s, EOF)
	default:
		s.read(s, n)
	}
}

func (s *Socket) flushWrites() {
	for len(s.writes) > 0 && !s.closed {
		req := s.writes[0]
		if !req.Done() {
			n, err := unix.Writev(s.fd, req.Iovecs())
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				s.writeBlocked = true
				_ = s.updateEvents()
				return
			}
			if err != nil {
				s.failWrites(statusOf(err))
				return
			}
			req.Consume(n)
			if !req.Done() {
				continue
			}
		}
		s.writes[0] = nil
		s.writes = s.writes[1:]
		s.thread.queueCallback(func() { req.Complete(0) })
	}
	_ = s.updateEvents()
}

func (s *Socket) failWrites(status int) {
	writes := s.writes
	s.writes = nil
	s.writeBlocked = false
	for _, req := range writes {
		req := req
		s.thread.queueCallback(func() { req.Complete(status) })
	}
	_ = s.updateEvents()
}

func (s *Socket) updateEvents() error {
	if s.fd < 0 {
		return nil
	}
	var ev uint32
	if s.reading {
		ev |= evRead
	}
	if s.writeBlocked && len(s.writes) > 0 {
		ev |= evWrite
	}
	switch {
	case ev == 0 && s.registered:
		s.thread.unwatch(s.fd)
		s.registered = false
	case ev != 0 && !s.registered:
		if err := s.thread.watch(s.fd, s, ev); err != nil {
			return err
		}
		s.registered = true
	case ev != 0 && ev != s.events:
		if err := s.thread.modify(s.fd, ev); err != nil {
			return err
		}
	}
	s.events = ev
	return nil
}

func statusOf(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return EIO
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	}
	return nil
}
