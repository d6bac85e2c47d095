// File: transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"os"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/reactor"
)

// Listener accepts connections for one endpoint on one thread.
type Listener struct {
	ctx    *ListenerContext
	handle reactor.ListenHandle
	addr   net.Addr
}

// NewListener creates an unbound listener.
func NewListener(ctx *ListenerContext) *Listener {
	return &Listener{ctx: ctx}
}

// Start binds the endpoint on the listener's thread.
func (l *Listener) Start(opts reactor.ListenOptions) error {
	_, err := l.ctx.Thread.PostAsync(func() error {
		h, err := l.ctx.Thread.Listen(l.ctx.Endpoint, opts, l.onConnection)
		if err != nil {
			return err
		}
		l.handle = h
		l.addr = h.Addr()
		return nil
	}).Result()
	return err
}

// Addr is the bound address, with the real port when binding port 0.
func (l *Listener) Addr() net.Addr { return l.addr }

// Close stops accepting. Established connections are not affected.
func (l *Listener) Close() error {
	_, err := l.ctx.Thread.PostAsync(func() error {
		if l.handle == nil || l.handle.IsClosed() {
			return nil
		}
		l.handle.Close()
		if l.ctx.ListenType == api.ListenPipe {
			return os.Remove(l.ctx.Endpoint.Address)
		}
		return nil
	}).Result()
	return err
}

func (l *Listener) onConnection(h reactor.ListenHandle, status int) {
	if status < 0 {
		l.ctx.Trace.ListenerError(l.ctx.Endpoint.String(), reactor.Errno(status))
		return
	}
	socket, err := l.ctx.CreateAcceptSocket()
	if err != nil {
		l.ctx.Trace.ListenerError(l.ctx.Endpoint.String(), err)
		return
	}
	if err := h.Accept(socket); err != nil {
		l.ctx.Trace.ListenerError(l.ctx.Endpoint.String(), err)
		socket.Close()
		return
	}
	l.dispatchConnection(socket)
}

func (l *Listener) dispatchConnection(socket reactor.StreamHandle) {
	cctx := NewConnectionContext(l.ctx, socket.LocalAddr(), socket.RemoteAddr())
	conn := NewConnection(cctx, socket)
	// Start logs its own failures and only tears down this connection.
	_ = conn.Start()
}
