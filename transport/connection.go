// File: transport/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection bridges one native stream handle with the application's pipe
// pair: it reads into the input pipe, drains the output pipe through an
// OutputConsumer and owns timeouts and teardown.

package transport

import (
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/future"
	"github.com/momentics/hioload-transport/pipe"
	"github.com/momentics/hioload-transport/reactor"
)

const timeoutUnarmed = math.MaxInt64

// Connection is one accepted socket. Methods documented as loop only must
// run on the owning reactor thread.
type Connection struct {
	ctx     *ConnectionContext
	id      string
	socket  reactor.StreamHandle
	thread  *reactor.Thread
	trace   *Trace
	metrics *control.Metrics

	minAlloc          int
	heartbeatInterval int64

	handler api.ConnectionHandler
	input   *pipe.Writer
	output  *OutputConsumer

	// loop-owned
	reading   bool
	allocated bool

	// Timestamps are offsets from epoch so they follow the monotonic clock.
	epoch           time.Time
	lastTimestamp   atomic.Int64
	timeoutDeadline atomic.Int64
	timeoutAction   atomic.Int32

	closing atomic.Bool
	closed  *future.Task
}

// NewConnection wraps socket and attaches the connection to it.
func NewConnection(ctx *ConnectionContext, socket reactor.StreamHandle) *Connection {
	c := &Connection{
		ctx:               ctx,
		id:                ctx.ConnectionID,
		socket:            socket,
		thread:            ctx.Thread,
		trace:             ctx.Trace,
		metrics:           ctx.Metrics,
		minAlloc:          ctx.Config.MinAllocBufferSize,
		heartbeatInterval: int64(ctx.Config.HeartbeatInterval),
		epoch:             ctx.Clock.Now(),
		closed:            future.NewTask(),
	}
	c.timeoutDeadline.Store(timeoutUnarmed)
	socket.SetUserData(c)
	return c
}

func (c *Connection) ID() string           { return c.id }
func (c *Connection) LocalAddr() net.Addr  { return c.ctx.LocalAddr }
func (c *Connection) RemoteAddr() net.Addr { return c.ctx.RemoteAddr }

// Closed resolves once the socket is disposed.
func (c *Connection) Closed() *future.Task { return c.closed }

// Start hands the connection to the application, starts reading and
// launches the output loop. A failure only affects this connection. Loop only.
func (c *Connection) Start() error {
	c.trace.ConnectionStart(c.id)
	handler, err := c.ctx.Application.OnConnection(api.ConnectionInfo{
		ID:            c.id,
		LocalAddr:     c.ctx.LocalAddr,
		RemoteAddr:    c.ctx.RemoteAddr,
		ListenType:    c.ctx.ListenType,
		InputOptions:  c.ctx.InputOptions(),
		OutputOptions: c.ctx.OutputOptions(),
		Timeouts:      c,
	})
	if err != nil {
		c.trace.ApplicationError(c.id, err)
		c.closing.Store(true)
		c.socket.Close()
		c.closed.Resolve(struct{}{}, nil)
		return api.NewError(api.ErrCodeStartup, "connection start failed").
			WithCause(err).
			WithContext("connection_id", c.id)
	}

	c.handler = handler
	c.input = handler.Input()
	c.output = NewOutputConsumer(handler.Output(), c.thread, c.socket, c.id, c.trace, c.metrics)
	c.ctx.Connections.Add(c.id, c)
	c.metrics.ConnectionsStarted.Inc()
	c.metrics.ConnectionsActive.Inc()

	if err := c.startReading(); err != nil {
		wrapped := api.NewIOError(err)
		c.trace.ConnectionError(c.id, wrapped)
		c.Close(wrapped)
		return wrapped
	}
	// The output loop is the only thing that ends the connection normally.
	go c.writeOutput()
	return nil
}

func (c *Connection) writeOutput() {
	err := c.output.WriteOutput()
	if perr := c.thread.Post(func() { c.Close(err) }); perr != nil {
		<-c.thread.Stopped()
		c.Close(err)
	}
}

// Stop asks the handler to finish. The task resolves when the handler is
// done or the socket is closed, whichever happens first. A panicking
// handler fails the task.
func (c *Connection) Stop() *future.Task {
	if c.handler == nil {
		return c.closed
	}
	if err := c.stopHandler(); err != nil {
		return future.CompletedTask(err)
	}
	return future.WhenAny(future.FromChan(c.handler.Done(), c.closed.Done()), c.closed)
}

func (c *Connection) stopHandler() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.ErrCodeInternal, "connection handler stop panicked").
				WithContext("connection_id", c.id).
				WithContext("panic", fmt.Sprint(r))
		}
	}()
	c.handler.Stop()
	return nil
}

// Abort tears the connection down; the task resolves once the socket is closed.
func (c *Connection) Abort(err error) *future.Task {
	if c.handler != nil {
		c.handler.Abort(err)
	}
	return c.closed
}

// Close disposes the socket, completes both pipes, notifies the handler
// and resolves Closed. Loop only; later calls are ignored.
func (c *Connection) Close(err error) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.stopReading()

	inputErr := err
	if inputErr == nil {
		inputErr = api.ErrConnectionAborted
	}
	c.input.Complete(inputErr)
	c.handler.Output().Complete(err)

	c.trace.ConnectionWriteFin(c.id)
	c.socket.Close()

	c.ctx.Connections.Delete(c.id)
	c.metrics.ConnectionsClosed.Inc()
	c.metrics.ConnectionsActive.Dec()

	c.handler.OnConnectionClosed(err)
	c.trace.ConnectionClosed(c.id)
	c.closed.Resolve(struct{}{}, nil)
}

// Tick checks the deadline against now and records now as the last
// heartbeat timestamp.
func (c *Connection) Tick(now time.Time) {
	ts := int64(now.Sub(c.epoch))
	deadline := c.timeoutDeadline.Load()
	if ts > deadline && c.handler != nil && c.timeoutDeadline.CompareAndSwap(deadline, timeoutUnarmed) {
		c.trace.ConnectionTimeout(c.id)
		c.metrics.ConnectionTimeouts.Inc()
		if api.TimeoutAction(c.timeoutAction.Load()) == api.TimeoutActionRespondThenStop {
			c.handler.Timeout()
		}
		stop := c.Stop()
		go func() {
			if _, err := stop.Result(); err != nil {
				c.trace.ConnectionStop(c.id, err)
			}
		}()
	}
	c.lastTimestamp.Store(ts)
}

// SetTimeout arms the deadline. It panics when a timeout is already armed.
func (c *Connection) SetTimeout(d time.Duration, action api.TimeoutAction) {
	if c.timeoutDeadline.Load() != timeoutUnarmed {
		panic("transport: concurrent timeouts are not supported")
	}
	c.assignTimeout(d, action)
}

// ResetTimeout arms the deadline whether or not one is pending.
func (c *Connection) ResetTimeout(d time.Duration, action api.TimeoutAction) {
	c.assignTimeout(d, action)
}

// CancelTimeout disarms the deadline.
func (c *Connection) CancelTimeout() {
	c.timeoutDeadline.Store(timeoutUnarmed)
}

func (c *Connection) assignTimeout(d time.Duration, action api.TimeoutAction) {
	c.timeoutAction.Store(int32(action))
	// Tick may run up to one heartbeat late.
	c.timeoutDeadline.Store(c.lastTimestamp.Load() + int64(d) + c.heartbeatInterval)
}

func (c *Connection) startReading() error {
	if c.reading || c.closing.Load() {
		return nil
	}
	if err := c.socket.ReadStart(c.onAlloc, c.onRead); err != nil {
		return err
	}
	c.reading = true
	return nil
}

func (c *Connection) stopReading() {
	if !c.reading {
		return
	}
	c.reading = false
	c.socket.ReadStop()
}

func (c *Connection) onAlloc(_ reactor.StreamHandle, _ int) []byte {
	if c.allocated {
		panic("transport: read buffer already checked out")
	}
	c.allocated = true
	return c.input.GetMemory(c.minAlloc)
}

func (c *Connection) onRead(_ reactor.StreamHandle, status int) {
	c.allocated = false
	if status == 0 {
		// EAGAIN: nothing was read into the buffer
		return
	}
	if status > 0 {
		c.trace.ConnectionRead(c.id, status)
		c.metrics.BytesRead.Add(float64(status))
		c.input.Advance(status)
		flush := c.input.Flush()
		if !flush.IsCompleted() {
			c.trace.ConnectionPause(c.id)
			c.metrics.ReadPauses.Inc()
			c.stopReading()
			go c.applyBackpressure(flush)
		}
		return
	}

	var err error
	if status == reactor.EOF {
		c.trace.ConnectionReadFin(c.id)
	} else {
		err = c.wrapReadError(status)
	}
	c.stopReading()
	c.input.Complete(err)

	abortErr := err
	if abortErr == nil {
		abortErr = api.ErrConnectionClosed
	}
	c.handler.Abort(abortErr)
}

func (c *Connection) applyBackpressure(flush *future.Future[pipe.FlushResult]) {
	res, _ := flush.Result()
	if res.IsCompleted {
		return
	}
	_ = c.thread.Post(func() {
		if c.closing.Load() {
			return
		}
		c.trace.ConnectionResume(c.id)
		if err := c.startReading(); err != nil {
			c.trace.ConnectionError(c.id, err)
		}
	})
}

func (c *Connection) wrapReadError(status int) error {
	errno := reactor.Errno(status)
	if reactor.IsConnectionReset(status) {
		c.trace.ConnectionReset(c.id)
		c.metrics.ConnectionResets.Inc()
		return api.NewConnectionResetError(errno)
	}
	wrapped := api.NewIOError(errno)
	c.trace.ConnectionError(c.id, wrapped)
	c.metrics.ConnectionErrors.Inc()
	return wrapped
}
