// File: reactor/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle contracts shared by native sockets and test doubles.

package reactor

import (
	"fmt"
	"net"
	"strings"
)

// HandleKind is the native family of a handle.
type HandleKind int

const (
	KindTCP HandleKind = iota
	KindPipe
)

func (k HandleKind) String() string {
	if k == KindPipe {
		return "pipe"
	}
	return "tcp"
}

// Handle is anything tracked in a Thread's handle table.
type Handle interface {
	Kind() HandleKind
	// Close disposes the native resource. It is idempotent.
	Close()
	IsClosed() bool
}

// AllocFunc returns the memory the next read lands in.
type AllocFunc func(h StreamHandle, suggestedSize int) []byte

// ReadFunc receives a byte count, 0 for a spurious wakeup, or a negative
// status such as EOF.
type ReadFunc func(h StreamHandle, status int)

// WriteCallback reports the outcome of one write request.
type WriteCallback func(req *WriteReq, status int)

// StreamHandle is a connected byte stream owned by a Thread.
type StreamHandle interface {
	Handle
	ReadStart(alloc AllocFunc, read ReadFunc) error
	ReadStop()
	// Write queues bufs. cb always runs on the loop, with ECANCELED when
	// the handle is closed before the data went out.
	Write(req *WriteReq, bufs [][]byte, cb WriteCallback)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// UserData holds the object attached to the handle, usually a connection.
	UserData() any
	SetUserData(v any)
}

// ConnectionFunc is invoked by a listener for every pending connection.
// The callback must Accept into a fresh stream handle or the pending
// socket is dropped.
type ConnectionFunc func(l ListenHandle, status int)

// ListenHandle is a bound, listening socket.
type ListenHandle interface {
	Handle
	Accept(into StreamHandle) error
	Addr() net.Addr
}

// ListenOptions tunes listener creation.
type ListenOptions struct {
	Backlog   int
	ReusePort bool
	NoDelay   bool
}

type ioHandler interface {
	handleEvents(events uint32)
}

// Endpoint is a listen address with its network.
type Endpoint struct {
	Network string
	Address string
}

// ParseEndpoint accepts "tcp://host:port", "unix:///path" or a bare host:port.
func ParseEndpoint(s string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(s, "tcp://"):
		return Endpoint{Network: "tcp", Address: strings.TrimPrefix(s, "tcp://")}, nil
	case strings.HasPrefix(s, "unix://"):
		path := strings.TrimPrefix(s, "unix://")
		if path == "" {
			return Endpoint{}, fmt.Errorf("reactor: empty unix socket path in %q", s)
		}
		return Endpoint{Network: "unix", Address: path}, nil
	case strings.Contains(s, "://"):
		return Endpoint{}, fmt.Errorf("reactor: unsupported endpoint scheme in %q", s)
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return Endpoint{}, fmt.Errorf("reactor: invalid endpoint %q: %w", s, err)
	}
	return Endpoint{Network: "tcp", Address: s}, nil
}

// Kind maps the network to a handle family.
func (e Endpoint) Kind() HandleKind {
	if e.Network == "unix" {
		return KindPipe
	}
	return KindTCP
}

func (e Endpoint) String() string { return e.Network + "://" + e.Address }
