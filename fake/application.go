// File: fake/application.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application records every connection handed to it. Each Handler owns a
// real pipe pair so tests drive the transport exactly like an application.

package fake

import (
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/pipe"
)

// ErrNoConnection is returned by Next when nothing connects in time.
var ErrNoConnection = errors.New("fake: no connection")

// Application implements api.Application.
type Application struct {
	// Err, when set, fails every OnConnection.
	Err error
	// StopBlocks makes handlers ignore Stop, so only Abort ends them.
	StopBlocks bool
	// StopPanics makes handlers panic in Stop.
	StopPanics bool

	mu       sync.Mutex
	handlers []*Handler
	next     chan *Handler
}

// NewApplication creates an application that accepts every connection.
func NewApplication() *Application {
	return &Application{next: make(chan *Handler, 128)}
}

func (a *Application) OnConnection(info api.ConnectionInfo) (api.ConnectionHandler, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	h := NewHandler(info)
	h.stopBlocks = a.StopBlocks
	h.stopPanics = a.StopPanics
	a.mu.Lock()
	a.handlers = append(a.handlers, h)
	a.mu.Unlock()
	select {
	case a.next <- h:
	default:
	}
	return h, nil
}

// Next waits for the next connection.
func (a *Application) Next(timeout time.Duration) (*Handler, error) {
	select {
	case h := <-a.next:
		return h, nil
	case <-time.After(timeout):
		return nil, ErrNoConnection
	}
}

// Handlers returns every handler created so far.
func (a *Application) Handlers() []*Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Handler(nil), a.handlers...)
}

// Handler implements api.ConnectionHandler and records the calls it gets.
type Handler struct {
	Info api.ConnectionInfo
	In   *pipe.Pipe
	Out  *pipe.Pipe

	stopBlocks bool
	stopPanics bool

	mu        sync.Mutex
	onTimeout func()
	aborts    []error
	timeouts  int
	stops     int
	closeErrs []error

	done     chan struct{}
	doneOnce sync.Once
	closed   chan struct{}
}

// NewHandler builds the pipe pair from the connection options.
func NewHandler(info api.ConnectionInfo) *Handler {
	return &Handler{
		Info:   info,
		In:     pipe.New(info.InputOptions),
		Out:    pipe.New(info.OutputOptions),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (h *Handler) Input() *pipe.Writer  { return h.In.Writer() }
func (h *Handler) Output() *pipe.Reader { return h.Out.Reader() }

// Abort completes the output with err, which ends the write loop.
func (h *Handler) Abort(err error) {
	h.mu.Lock()
	h.aborts = append(h.aborts, err)
	h.mu.Unlock()
	h.Out.Writer().Complete(err)
	h.finish()
}

func (h *Handler) Timeout() {
	h.mu.Lock()
	h.timeouts++
	fn := h.onTimeout
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnTimeout runs fn inside every later Timeout call.
func (h *Handler) OnTimeout(fn func()) {
	h.mu.Lock()
	h.onTimeout = fn
	h.mu.Unlock()
}

// Stop completes the output cleanly unless the application blocks stops.
func (h *Handler) Stop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
	if h.stopPanics {
		panic("fake: stop failed")
	}
	if h.stopBlocks {
		return
	}
	h.Out.Writer().Complete(nil)
	h.finish()
}

func (h *Handler) OnConnectionClosed(err error) {
	h.mu.Lock()
	h.closeErrs = append(h.closeErrs, err)
	first := len(h.closeErrs) == 1
	h.mu.Unlock()
	if first {
		close(h.closed)
	}
}

func (h *Handler) Done() <-chan struct{} { return h.done }

func (h *Handler) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Send writes b to the output pipe.
func (h *Handler) Send(b []byte) error {
	_, err := h.Out.Writer().Write(b).Result()
	return err
}

// Receive waits until at least n input bytes are buffered and consumes them.
func (h *Handler) Receive(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	r := h.In.Reader()
	for {
		res, ok, err := r.TryRead()
		if ok && res.Buffer.Len() >= int64(n) {
			b := res.Buffer.Bytes()
			r.AdvanceTo(res.Buffer.Len(), res.Buffer.Len())
			return b, err
		}
		if ok {
			r.AdvanceTo(0, 0)
		}
		if ok && res.IsCompleted {
			return res.Buffer.Bytes(), err
		}
		if time.Now().After(deadline) {
			return nil, ErrNoConnection
		}
		time.Sleep(time.Millisecond)
	}
}

// WaitClosed blocks until OnConnectionClosed ran.
func (h *Handler) WaitClosed(timeout time.Duration) bool {
	select {
	case <-h.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (h *Handler) Aborts() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.aborts...)
}

func (h *Handler) Timeouts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeouts
}

func (h *Handler) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// CloseErrors returns the error of every OnConnectionClosed call.
func (h *Handler) CloseErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.closeErrs...)
}

var (
	_ api.Application       = (*Application)(nil)
	_ api.ConnectionHandler = (*Handler)(nil)
)
