// File: api/application.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contract between the transport and the protocol layer that consumes
// accepted connections.

package api

import (
	"net"
	"time"

	"github.com/momentics/hioload-transport/pipe"
)

// ListenType selects the native handle family for a listener.
type ListenType int

const (
	ListenTCP ListenType = iota
	ListenPipe
)

func (t ListenType) String() string {
	switch t {
	case ListenTCP:
		return "tcp"
	case ListenPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// TimeoutAction is what a connection does when its armed deadline passes.
type TimeoutAction int32

const (
	// TimeoutActionNone stops the handler without notifying it first.
	TimeoutActionNone TimeoutAction = iota
	// TimeoutActionRespondThenStop calls Timeout on the handler, then stops it.
	TimeoutActionRespondThenStop
)

// TimeoutControl arms and clears the per-connection deadline.
// SetTimeout panics when a timeout is already armed.
type TimeoutControl interface {
	SetTimeout(d time.Duration, action TimeoutAction)
	ResetTimeout(d time.Duration, action TimeoutAction)
	CancelTimeout()
}

// ConnectionInfo describes an accepted connection to the application.
type ConnectionInfo struct {
	ID         string
	LocalAddr  net.Addr
	RemoteAddr net.Addr
	ListenType ListenType

	// InputOptions configures the pipe the transport writes received bytes into.
	InputOptions pipe.Options
	// OutputOptions configures the pipe the transport drains to the socket.
	OutputOptions pipe.Options

	Timeouts TimeoutControl
}

// Application accepts new connections.
type Application interface {
	OnConnection(info ConnectionInfo) (ConnectionHandler, error)
}

// ConnectionHandler is the application side of one connection.
type ConnectionHandler interface {
	// Input is written by the transport with bytes read from the socket.
	Input() *pipe.Writer
	// Output is drained by the transport onto the socket.
	Output() *pipe.Reader

	Abort(err error)
	Timeout()
	OnConnectionClosed(err error)

	// Stop requests graceful shutdown; Done is closed once the handler finished.
	Stop()
	Done() <-chan struct{}
}
