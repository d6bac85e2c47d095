// File: internal/echo/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Echo application: every byte read from a connection is written back.
// Idle connections are stopped by the keep-alive timeout.

package echo

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/pipe"
)

// Application echoes on every connection.
type Application struct {
	keepAlive time.Duration
	log       *zap.Logger
}

// New creates the application. A zero keepAlive disables the idle timeout.
func New(keepAlive time.Duration, log *zap.Logger) *Application {
	if log == nil {
		log = zap.NewNop()
	}
	return &Application{keepAlive: keepAlive, log: log}
}

func (a *Application) OnConnection(info api.ConnectionInfo) (api.ConnectionHandler, error) {
	h := &handler{
		id:        info.ID,
		in:        pipe.New(info.InputOptions),
		out:       pipe.New(info.OutputOptions),
		timeouts:  info.Timeouts,
		keepAlive: a.keepAlive,
		log:       a.log,
		done:      make(chan struct{}),
	}
	if h.keepAlive > 0 && h.timeouts != nil {
		h.timeouts.SetTimeout(h.keepAlive, api.TimeoutActionNone)
	}
	go h.run()
	return h, nil
}

type handler struct {
	id        string
	in        *pipe.Pipe
	out       *pipe.Pipe
	timeouts  api.TimeoutControl
	keepAlive time.Duration
	log       *zap.Logger

	mu       sync.Mutex
	abortErr error
	done     chan struct{}
}

func (h *handler) Input() *pipe.Writer  { return h.in.Writer() }
func (h *handler) Output() *pipe.Reader { return h.out.Reader() }

func (h *handler) Abort(err error) {
	h.mu.Lock()
	if h.abortErr == nil {
		h.abortErr = err
		if h.abortErr == nil {
			h.abortErr = api.ErrConnectionAborted
		}
	}
	h.mu.Unlock()
	h.in.Reader().CancelPendingRead()
}

func (h *handler) Timeout() {
	h.log.Debug("echo connection idle", zap.String("connection_id", h.id))
}

// Stop ends the loop after the data already read is echoed.
func (h *handler) Stop() { h.in.Reader().CancelPendingRead() }

func (h *handler) OnConnectionClosed(error) {}

func (h *handler) Done() <-chan struct{} { return h.done }

func (h *handler) run() {
	err := h.loop()
	h.in.Reader().Complete(nil)
	h.out.Writer().Complete(err)
	close(h.done)
}

func (h *handler) loop() error {
	input, output := h.in.Reader(), h.out.Writer()
	for {
		res, err := input.Read(context.Background())
		if err != nil {
			if errors.Is(err, api.ErrConnectionAborted) {
				return nil
			}
			return err
		}
		buf := res.Buffer
		if !buf.IsEmpty() {
			for _, seg := range buf.Segments() {
				for len(seg) > 0 {
					n := copy(output.GetMemory(len(seg)), seg)
					output.Advance(n)
					seg = seg[n:]
				}
			}
			if h.keepAlive > 0 && h.timeouts != nil {
				h.timeouts.ResetTimeout(h.keepAlive, api.TimeoutActionNone)
			}
		}
		input.AdvanceTo(buf.Len(), buf.Len())

		if !buf.IsEmpty() {
			flush, _ := output.Flush().Result()
			if flush.IsCompleted || flush.IsCanceled {
				return nil
			}
		}
		if res.IsCanceled {
			err := h.aborted()
			if errors.Is(err, api.ErrConnectionClosed) {
				// peer FIN: whatever was echoed above still goes out
				return nil
			}
			return err
		}
		if res.IsCompleted {
			return nil
		}
	}
}

func (h *handler) aborted() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abortErr
}
