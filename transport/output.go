// File: transport/output.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/future"
	"github.com/momentics/hioload-transport/pipe"
	"github.com/momentics/hioload-transport/reactor"
)

// OutputConsumer drains the application's output pipe onto the socket,
// one pooled write request at a time.
type OutputConsumer struct {
	output       *pipe.Reader
	thread       *reactor.Thread
	socket       reactor.StreamHandle
	connectionID string
	trace        *Trace
	metrics      *control.Metrics
}

// NewOutputConsumer creates a consumer for one connection.
func NewOutputConsumer(output *pipe.Reader, thread *reactor.Thread, socket reactor.StreamHandle,
	connectionID string, trace *Trace, metrics *control.Metrics) *OutputConsumer {
	return &OutputConsumer{
		output:       output,
		thread:       thread,
		socket:       socket,
		connectionID: connectionID,
		trace:        trace,
		metrics:      metrics,
	}
}

type writeResult struct {
	status int
	closed bool
}

// WriteOutput loops until the output pipe is canceled or completed, or a
// write fails. A failed region is left unconsumed.
func (o *OutputConsumer) WriteOutput() error {
	for {
		result, err := o.output.Read(context.Background())
		if err != nil {
			return err
		}
		buffer := result.Buffer
		consumed := buffer.Len()

		if !buffer.IsEmpty() {
			res, err := o.write(buffer)
			if err != nil {
				o.output.AdvanceTo(0, buffer.Len())
				return err
			}
			if res.closed || res.status == reactor.ECANCELED {
				o.output.AdvanceTo(consumed, consumed)
				return nil
			}
			if werr := o.logWriteInfo(res.status); werr != nil {
				o.output.AdvanceTo(0, buffer.Len())
				return werr
			}
			o.metrics.BytesWritten.Add(float64(buffer.Len()))
		}

		o.output.AdvanceTo(consumed, consumed)
		if result.IsCanceled {
			return nil
		}
		if buffer.IsEmpty() && result.IsCompleted {
			return nil
		}
	}
}

// write issues one native write on the loop and waits for its callback.
func (o *OutputConsumer) write(buffer pipe.Buffer) (writeResult, error) {
	done := future.New[writeResult]()
	err := o.thread.Post(func() {
		if o.socket.IsClosed() {
			done.Resolve(writeResult{closed: true}, nil)
			return
		}
		pool := o.thread.WriteReqPool()
		req := pool.Allocate()
		o.trace.ConnectionWrite(o.connectionID, int(buffer.Len()))
		o.socket.Write(req, buffer.Segments(), func(req *reactor.WriteReq, status int) {
			defer pool.Return(req)
			done.Resolve(writeResult{status: status}, nil)
		})
	})
	if err != nil {
		return writeResult{}, err
	}
	return done.Result()
}

func (o *OutputConsumer) logWriteInfo(status int) error {
	if status >= 0 {
		o.trace.ConnectionWriteCallback(o.connectionID, status)
		return nil
	}
	errno := reactor.Errno(status)
	if reactor.IsConnectionReset(status) {
		o.trace.ConnectionReset(o.connectionID)
		o.metrics.ConnectionResets.Inc()
		return api.NewConnectionResetError(errno)
	}
	wrapped := api.NewIOError(errno)
	o.trace.ConnectionError(o.connectionID, wrapped)
	o.metrics.ConnectionErrors.Inc()
	return wrapped
}
