// File: transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport owns the reactor threads and their listeners, and runs the
// bounded-time shutdown sequence.

package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-transport/affinity"
	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/reactor"
)

// Transport binds the configured endpoints across ThreadCount threads.
type Transport struct {
	ctx       *TransportContext
	heartbeat *Heartbeat
	probes    *control.DebugProbes

	mu        sync.Mutex
	threads   []*reactor.Thread
	listeners []*Listener
	bound     bool
}

// NewTransport creates an unbound transport. probes may be nil.
func NewTransport(ctx *TransportContext, probes *control.DebugProbes) *Transport {
	return &Transport{
		ctx:       ctx,
		heartbeat: NewHeartbeat(ctx.Clock, ctx.Config.HeartbeatInterval, ctx.Connections, ctx.Trace.Logger()),
		probes:    probes,
	}
}

// Context returns the shared transport context.
func (t *Transport) Context() *TransportContext { return t.ctx }

// Bind starts the threads and listens on every endpoint. TCP endpoints get
// one SO_REUSEPORT listener per thread; unix sockets bind on the first thread.
func (t *Transport) Bind() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound {
		return errors.New("transport: already bound")
	}
	if t.ctx.Application == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "transport: no application")
	}
	eps, err := t.ctx.Config.Endpoints()
	if err != nil {
		return err
	}

	for i := 0; i < t.ctx.Config.ThreadCount; i++ {
		th := reactor.NewThread(reactor.ThreadOptions{
			Name:               fmt.Sprintf("reactor-%d", i),
			MaxPooledWriteReqs: t.ctx.Config.MaxPooledWriteReqs,
			Logger:             t.ctx.Trace.Logger(),
			Pin:                t.ctx.Config.PinThreads,
			CPU:                affinity.CPUFor(i),
		})
		if err := th.Start(); err != nil {
			return multierr.Append(err, t.teardownLocked())
		}
		t.threads = append(t.threads, th)
	}

	for _, ep := range eps {
		threads := t.threads
		if ep.Network == "unix" {
			threads = threads[:1]
		}
		opts := reactor.ListenOptions{
			Backlog:   reactor.ListenBacklog,
			ReusePort: len(threads) > 1,
			NoDelay:   t.ctx.Config.NoDelay,
		}
		bindEp := ep
		for _, th := range threads {
			lctx, err := NewListenerContext(t.ctx, bindEp, th)
			if err != nil {
				return multierr.Append(err, t.teardownLocked())
			}
			l := NewListener(lctx)
			if err := l.Start(opts); err != nil {
				return multierr.Append(err, t.teardownLocked())
			}
			t.listeners = append(t.listeners, l)
			// the remaining threads share whatever port the first one got
			if ep.Network != "unix" && l.Addr() != nil {
				bindEp = reactor.Endpoint{Network: ep.Network, Address: l.Addr().String()}
			}
		}
	}

	t.heartbeat.Start()
	t.registerProbes()
	t.bound = true
	for _, l := range t.listeners {
		t.ctx.Trace.Logger().Info("listening",
			zap.String("endpoint", l.ctx.Endpoint.String()),
			zap.Stringer("addr", l.Addr()),
			zap.String("thread", l.ctx.Thread.Name()))
	}
	return nil
}

// Addrs lists the bound listener addresses.
func (t *Transport) Addrs() []net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]net.Addr, 0, len(t.listeners))
	for _, l := range t.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Unbind closes every listener. Open connections stay up.
func (t *Transport) Unbind() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unbindLocked()
}

func (t *Transport) unbindLocked() error {
	var errs error
	for _, l := range t.listeners {
		errs = multierr.Append(errs, l.Close())
	}
	t.listeners = nil
	return errs
}

// Stop unbinds, then on every thread closes connections gracefully within
// ShutdownTimeout, aborts the rest within AbortTimeout and stops the thread.
func (t *Transport) Stop() error {
	t.heartbeat.Stop()

	t.mu.Lock()
	errs := t.unbindLocked()
	threads := t.threads
	t.threads = nil
	t.bound = false
	t.mu.Unlock()
	t.unregisterProbes()

	var mu sync.Mutex
	var g errgroup.Group
	for _, th := range threads {
		th := th
		g.Go(func() error {
			err := t.stopThread(th)
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (t *Transport) stopThread(th *reactor.Thread) error {
	cfg := t.ctx.Config
	m := NewConnectionManager(th, t.ctx.Clock)

	ok, errs := m.WalkConnectionsAndClose(cfg.ShutdownTimeout)
	if !ok {
		t.ctx.Trace.NotAllConnectionsClosedGracefully(th.Name())
		aborted, err := m.WalkConnectionsAndAbort(cfg.AbortTimeout)
		errs = multierr.Append(errs, err)
		if !aborted {
			t.ctx.Trace.NotAllConnectionsAborted(th.Name())
		}
	}
	return multierr.Append(errs, th.Stop(cfg.ShutdownTimeout))
}

// teardownLocked undoes a partial Bind.
func (t *Transport) teardownLocked() error {
	errs := t.unbindLocked()
	for _, th := range t.threads {
		errs = multierr.Append(errs, th.Stop(t.ctx.Config.ShutdownTimeout))
	}
	t.threads = nil
	return errs
}

func (t *Transport) registerProbes() {
	if t.probes == nil {
		return
	}
	t.probes.RegisterProbe("transport.connections", func() any { return t.ctx.Connections.Len() })
	t.probes.RegisterProbe("transport.segments", func() any { return t.ctx.Pool.Stats() })
	threads := append([]*reactor.Thread(nil), t.threads...)
	t.probes.RegisterProbe("transport.threads", func() any {
		uptime := make(map[string]int64, len(threads))
		for _, th := range threads {
			uptime[th.Name()] = th.Now()
		}
		return uptime
	})
}

func (t *Transport) unregisterProbes() {
	if t.probes == nil {
		return
	}
	for _, name := range []string{"transport.connections", "transport.segments", "transport.threads"} {
		t.probes.UnregisterProbe(name)
	}
}
