// File: reactor/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread is a single-goroutine event loop pinned to an OS thread. It owns
// the handle table, the write request pool and every native operation.

package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/affinity"
	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/future"
)

// ThreadOptions configures a Thread.
type ThreadOptions struct {
	Name               string
	MaxPooledWriteReqs int
	Logger             *zap.Logger
	// Pin binds the loop's OS thread to CPU.
	Pin bool
	CPU int
}

// Thread runs the loop. Create with NewThread, then Start.
type Thread struct {
	opts ThreadOptions
	log  *zap.Logger

	poller *poller

	mu     sync.Mutex
	posts  *queue.Queue
	closed bool

	// loop-owned state
	handles   map[Handle]struct{}
	io        map[int]ioHandler
	pending   []func()
	writeReqs *WriteReqPool
	allowStop bool
	immediate bool

	epoch   time.Time
	running atomic.Bool
	stopped chan struct{}
}

// NewThread creates a thread that is not yet running.
func NewThread(opts ThreadOptions) *Thread {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "reactor"
	}
	return &Thread{
		opts:      opts,
		log:       opts.Logger.With(zap.String("thread", opts.Name)),
		posts:     queue.New(),
		handles:   make(map[Handle]struct{}),
		io:        make(map[int]ioHandler),
		writeReqs: NewWriteReqPool(opts.MaxPooledWriteReqs),
		epoch:     time.Now(),
		stopped:   make(chan struct{}),
	}
}

// Name identifies the thread in logs.
func (t *Thread) Name() string { return t.opts.Name }

// Start launches the loop goroutine.
func (t *Thread) Start() error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("reactor: thread %s already started", t.opts.Name)
	}
	p, err := newPoller()
	if err != nil {
		t.running.Store(false)
		return fmt.Errorf("reactor: create poller: %w", err)
	}
	t.mu.Lock()
	t.poller = p
	t.mu.Unlock()
	go t.run()
	return nil
}

// Now returns monotonic milliseconds since the thread was created.
func (t *Thread) Now() int64 { return time.Since(t.epoch).Milliseconds() }

// Stopped is closed when the loop has exited.
func (t *Thread) Stopped() <-chan struct{} { return t.stopped }

// WriteReqPool returns the loop-local request pool.
func (t *Thread) WriteReqPool() *WriteReqPool { return t.writeReqs }

// Post schedules fn on the loop. Safe from any goroutine.
func (t *Thread) Post(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return api.ErrThreadStopped
	}
	t.posts.Add(fn)
	if t.poller == nil {
		return nil
	}
	// the eventfd is closed only after shutdown sets closed under mu
	return t.poller.wake()
}

// PostAsync schedules fn and resolves the task with its error. A panic in
// fn is reported as an error.
func (t *Thread) PostAsync(fn func() error) *future.Task {
	task := future.NewTask()
	err := t.Post(func() {
		task.Resolve(struct{}{}, t.call(fn))
	})
	if err != nil {
		task.Resolve(struct{}{}, err)
	}
	return task
}

// Walk visits every live handle. Loop only.
func (t *Thread) Walk(fn func(Handle)) {
	snapshot := make([]Handle, 0, len(t.handles))
	for h := range t.handles {
		snapshot = append(snapshot, h)
	}
	for _, h := range snapshot {
		fn(h)
	}
}

// HandleCount returns the size of the handle table. Loop only.
func (t *Thread) HandleCount() int { return len(t.handles) }

// Register adds h to the handle table. Loop only.
func (t *Thread) Register(h Handle) { t.handles[h] = struct{}{} }

// Unregister removes h from the handle table. Loop only.
func (t *Thread) Unregister(h Handle) { delete(t.handles, h) }

// Stop shuts the loop down in three phases, each given timeout: let it end
// once every handle is closed, then close all handles, then break out
// regardless of open handles.
func (t *Thread) Stop(timeout time.Duration) error {
	if !t.running.Load() {
		return nil
	}
	phases := []func(){
		func() { t.allowStop = true },
		func() { t.Walk(func(h Handle) { h.Close() }) },
		func() { t.immediate = true },
	}
	for _, phase := range phases {
		if err := t.Post(phase); err != nil {
			break
		}
		if t.waitStopped(timeout) {
			return nil
		}
	}
	if t.waitStopped(timeout) {
		return nil
	}
	return fmt.Errorf("reactor: thread %s did not stop within %s", t.opts.Name, timeout)
}

func (t *Thread) waitStopped(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.stopped:
		return true
	case <-timer.C:
		return false
	}
}

func (t *Thread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer t.shutdown()

	if t.opts.Pin {
		if err := affinity.SetAffinity(t.opts.CPU); err != nil {
			t.log.Warn("reactor thread not pinned", zap.Int("cpu", t.opts.CPU), zap.Error(err))
		} else {
			t.log.Debug("reactor thread pinned", zap.Int("cpu", t.opts.CPU))
		}
	}

	t.log.Debug("reactor thread started")
	for {
		timeout := -1
		if len(t.pending) > 0 {
			timeout = 0
		}
		if err := t.poller.wait(timeout, t.dispatch); err != nil {
			t.log.Error("reactor poll failed", zap.Error(err))
			return
		}
		t.runPending()
		t.drainPosts()
		if t.immediate {
			return
		}
		if t.allowStop && len(t.handles) == 0 && len(t.pending) == 0 {
			return
		}
	}
}

func (t *Thread) shutdown() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.Walk(func(h Handle) { h.Close() })
	t.runPending()
	t.drainPosts()
	t.runPending()
	t.writeReqs.Dispose()
	if err := t.poller.close(); err != nil {
		t.log.Warn("reactor poller close failed", zap.Error(err))
	}
	t.running.Store(false)
	close(t.stopped)
	t.log.Debug("reactor thread stopped")
}

func (t *Thread) dispatch(fd int, events uint32) {
	h, ok := t.io[fd]
	if !ok {
		return
	}
	t.safe(func() { h.handleEvents(events) })
}

func (t *Thread) drainPosts() {
	t.mu.Lock()
	n := t.posts.Length()
	t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.mu.Lock()
		fn := t.posts.Remove().(func())
		t.mu.Unlock()
		t.safe(fn)
	}
}

// queueCallback defers fn to the end of the current loop iteration. Loop only.
func (t *Thread) queueCallback(fn func()) {
	t.pending = append(t.pending, fn)
}

func (t *Thread) runPending() {
	for len(t.pending) > 0 {
		batch := t.pending
		t.pending = nil
		for _, fn := range batch {
			t.safe(fn)
		}
	}
}

// safe keeps the loop alive when a callback panics.
func (t *Thread) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("reactor callback panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (t *Thread) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.ErrCodeInternal, "reactor: posted callback panicked").
				WithContext("panic", fmt.Sprint(r))
		}
	}()
	return fn()
}

func (t *Thread) watch(fd int, h ioHandler, events uint32) error {
	if err := t.poller.add(fd, events); err != nil {
		return err
	}
	t.io[fd] = h
	return nil
}

func (t *Thread) modify(fd int, events uint32) error {
	return t.poller.mod(fd, events)
}

func (t *Thread) unwatch(fd int) {
	if _, ok := t.io[fd]; !ok {
		return
	}
	delete(t.io, fd)
	_ = t.poller.del(fd)
}
