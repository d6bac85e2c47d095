// File: fake/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stream is a scripted reactor.StreamHandle. Tests push reads into it and
// choose the status every write completes with; callbacks always run on the
// owning thread, like a native socket.

package fake

import (
	"net"
	"sync"

	"github.com/momentics/hioload-transport/reactor"
)

// Addr is a static net.Addr.
type Addr string

func (a Addr) Network() string { return "fake" }
func (a Addr) String() string  { return string(a) }

// Stream implements reactor.StreamHandle on top of a running Thread.
type Stream struct {
	thread *reactor.Thread
	kind   reactor.HandleKind
	local  net.Addr
	remote net.Addr

	// loop-owned
	alloc   reactor.AllocFunc
	read    reactor.ReadFunc
	backlog [][]byte
	data    any

	mu            sync.Mutex
	closed        bool
	reading       bool
	readStarts    int
	readStops     int
	closes        int
	writeStatuses []int
	writes        [][]byte
	attempts      int
	checkedOut    int
	maxCheckedOut int
}

// NewStream creates an unregistered stream; see Open.
func NewStream(t *reactor.Thread, kind reactor.HandleKind) *Stream {
	return &Stream{
		thread: t,
		kind:   kind,
		local:  Addr("local"),
		remote: Addr("remote"),
	}
}

// Open creates a stream and registers it in t's handle table.
func Open(t *reactor.Thread) (*Stream, error) {
	s := NewStream(t, reactor.KindTCP)
	_, err := t.PostAsync(func() error {
		t.Register(s)
		return nil
	}).Result()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) Kind() reactor.HandleKind { return s.kind }

func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reading = false
	s.closes++
	s.mu.Unlock()
	s.backlog = nil
	s.thread.Unregister(s)
}

func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) ReadStart(alloc reactor.AllocFunc, read reactor.ReadFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return reactor.Errno(reactor.EBADF)
	}
	s.reading = true
	s.readStarts++
	s.mu.Unlock()
	s.alloc, s.read = alloc, read
	if len(s.backlog) > 0 {
		// held reads resume on the next iteration, never inside ReadStart
		_ = s.thread.Post(s.drain)
	}
	return nil
}

func (s *Stream) ReadStop() {
	s.mu.Lock()
	s.reading = false
	s.readStops++
	s.mu.Unlock()
}

func (s *Stream) Write(req *reactor.WriteReq, bufs [][]byte, cb reactor.WriteCallback) {
	req.Init(bufs, cb)
	s.mu.Lock()
	s.attempts++
	status := reactor.ECANCELED
	if !s.closed {
		status = req.Len()
		if len(s.writeStatuses) > 0 {
			status = s.writeStatuses[0]
			s.writeStatuses = s.writeStatuses[1:]
		}
		if status >= 0 {
			out := make([]byte, 0, req.Len())
			for _, b := range req.Buffers() {
				out = append(out, b...)
			}
			s.writes = append(s.writes, out)
		}
	}
	s.mu.Unlock()
	if err := s.thread.Post(func() { req.Complete(status) }); err != nil {
		req.Complete(reactor.ECANCELED)
	}
}

func (s *Stream) LocalAddr() net.Addr  { return s.local }
func (s *Stream) RemoteAddr() net.Addr { return s.remote }
func (s *Stream) UserData() any        { return s.data }
func (s *Stream) SetUserData(v any)    { s.data = v }

// Deliver feeds data to the read callbacks. Data that arrives while reading
// is stopped is held until the next ReadStart.
func (s *Stream) Deliver(data []byte) error {
	cp := append([]byte(nil), data...)
	return s.thread.Post(func() {
		s.backlog = append(s.backlog, cp)
		s.drain()
	})
}

// DeliverStatus reports a bare status, such as reactor.EOF or a negative
// errno, to the read callback. Zero goes through alloc like a spurious
// wakeup does.
func (s *Stream) DeliverStatus(status int) error {
	return s.thread.Post(func() {
		if !s.IsReading() {
			return
		}
		if status == 0 {
			s.allocate(0)
		}
		s.complete(status)
	})
}

func (s *Stream) drain() {
	for len(s.backlog) > 0 && s.IsReading() {
		data := s.backlog[0]
		buf := s.allocate(len(data))
		if len(buf) == 0 {
			s.complete(reactor.ENOBUFS)
			return
		}
		n := copy(buf, data)
		if n == len(data) {
			s.backlog = s.backlog[1:]
		} else {
			s.backlog[0] = data[n:]
		}
		s.complete(n)
	}
}

func (s *Stream) allocate(suggested int) []byte {
	s.mu.Lock()
	s.checkedOut++
	if s.checkedOut > s.maxCheckedOut {
		s.maxCheckedOut = s.checkedOut
	}
	s.mu.Unlock()
	return s.alloc(s, suggested)
}

func (s *Stream) complete(status int) {
	s.mu.Lock()
	if s.checkedOut > 0 {
		s.checkedOut--
	}
	s.mu.Unlock()
	s.read(s, status)
}

// ScriptWrites queues the statuses the next writes complete with. Once the
// script runs out writes succeed.
func (s *Stream) ScriptWrites(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeStatuses = append(s.writeStatuses, statuses...)
}

// Written returns the payload of every successful write in order.
func (s *Stream) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

// WriteAttempts counts Write calls, failed ones included.
func (s *Stream) WriteAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Stream) IsReading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

func (s *Stream) ReadStarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStarts
}

func (s *Stream) ReadStops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStops
}

func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// MaxCheckedOut is the largest number of buffers handed out by alloc and
// not yet reported back through the read callback.
func (s *Stream) MaxCheckedOut() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxCheckedOut
}

var _ reactor.StreamHandle = (*Stream)(nil)
