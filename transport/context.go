// File: transport/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Configuration holders shared by listeners and connections.

package transport

import (
	"fmt"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/config"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/internal/registry"
	"github.com/momentics/hioload-transport/pipe"
	"github.com/momentics/hioload-transport/pool"
	"github.com/momentics/hioload-transport/reactor"
)

// TransportContext is shared by every listener and connection of a Transport.
type TransportContext struct {
	Config      *config.Config
	Application api.Application
	Trace       *Trace
	Metrics     *control.Metrics
	Connections *registry.Registry[*Connection]
	Pool        *pool.SegmentPool
	Clock       clock.Clock
}

// NewTransportContext fills in defaults for nil collaborators.
func NewTransportContext(cfg *config.Config, app api.Application, log *zap.Logger, metrics *control.Metrics) *TransportContext {
	if cfg == nil {
		cfg = config.Default()
	}
	if metrics == nil {
		metrics = control.NewMetrics(nil)
	}
	return &TransportContext{
		Config:      cfg,
		Application: app,
		Trace:       NewTrace(log),
		Metrics:     metrics,
		Connections: registry.New[*Connection](64),
		Pool:        pool.NewSegmentPool(pool.DefaultSegmentSize),
		Clock:       clock.New(),
	}
}

// InputOptions configures the pipe carrying received bytes to the application.
func (tc *TransportContext) InputOptions() pipe.Options {
	return pipe.Options{
		Pool:                  tc.Pool,
		PauseWriterThreshold:  tc.Config.MaxReadBufferSize,
		ResumeWriterThreshold: tc.Config.MaxReadBufferSize / 2,
		MinimumSegmentSize:    tc.Pool.SegmentSize(),
	}
}

// OutputOptions configures the pipe carrying application bytes to the socket.
func (tc *TransportContext) OutputOptions() pipe.Options {
	return pipe.Options{
		Pool:                  tc.Pool,
		PauseWriterThreshold:  tc.Config.MaxWriteBufferSize,
		ResumeWriterThreshold: tc.Config.MaxWriteBufferSize / 2,
		MinimumSegmentSize:    tc.Pool.SegmentSize(),
	}
}

// ListenerContext binds one endpoint to one reactor thread.
type ListenerContext struct {
	*TransportContext
	Endpoint   reactor.Endpoint
	ListenType api.ListenType
	Thread     *reactor.Thread
}

// NewListenerContext derives the listen type from the endpoint network.
func NewListenerContext(tc *TransportContext, ep reactor.Endpoint, thread *reactor.Thread) (*ListenerContext, error) {
	lt, err := listenTypeOf(ep)
	if err != nil {
		return nil, err
	}
	return &ListenerContext{TransportContext: tc, Endpoint: ep, ListenType: lt, Thread: thread}, nil
}

func listenTypeOf(ep reactor.Endpoint) (api.ListenType, error) {
	switch ep.Network {
	case "tcp", "tcp4", "tcp6":
		return api.ListenTCP, nil
	case "unix":
		return api.ListenPipe, nil
	}
	return 0, fmt.Errorf("%w: %s", api.ErrUnsupportedListenType, ep.Network)
}

// CreateAcceptSocket returns a fresh handle of the listener's family for
// the next accepted connection. Loop only.
func (lc *ListenerContext) CreateAcceptSocket() (reactor.StreamHandle, error) {
	switch lc.ListenType {
	case api.ListenTCP:
		return reactor.NewStreamHandle(lc.Thread, reactor.KindTCP)
	case api.ListenPipe:
		return reactor.NewStreamHandle(lc.Thread, reactor.KindPipe)
	}
	return nil, api.ErrUnsupportedListenType
}

// ConnectionContext carries per-connection identity.
type ConnectionContext struct {
	*ListenerContext
	ConnectionID string
	LocalAddr    net.Addr
	RemoteAddr   net.Addr
}

// NewConnectionContext assigns a fresh connection id.
func NewConnectionContext(lc *ListenerContext, local, remote net.Addr) *ConnectionContext {
	return &ConnectionContext{
		ListenerContext: lc,
		ConnectionID:    uuid.NewString(),
		LocalAddr:       local,
		RemoteAddr:      remote,
	}
}
