// File: transport/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/future"
	"github.com/momentics/hioload-transport/reactor"
)

// ConnectionManager closes or aborts every connection of one thread within
// a time budget. Tasks still running when the budget expires are left alone.
type ConnectionManager struct {
	thread *reactor.Thread
	clock  clock.Clock
}

// NewConnectionManager creates a manager for thread. A nil clk uses wall time.
func NewConnectionManager(thread *reactor.Thread, clk clock.Clock) *ConnectionManager {
	if clk == nil {
		clk = clock.New()
	}
	return &ConnectionManager{thread: thread, clock: clk}
}

// WalkConnectionsAndClose stops every connection gracefully. It reports
// whether all of them finished within timeout.
func (m *ConnectionManager) WalkConnectionsAndClose(timeout time.Duration) (bool, error) {
	return m.walkConnections(func(c *Connection) *future.Task {
		return c.Stop()
	}, timeout)
}

// WalkConnectionsAndAbort aborts every connection. It reports whether all
// sockets closed within timeout.
func (m *ConnectionManager) WalkConnectionsAndAbort(timeout time.Duration) (bool, error) {
	return m.walkConnections(func(c *Connection) *future.Task {
		return c.Abort(api.ErrServerShutdown)
	}, timeout)
}

func (m *ConnectionManager) walkConnections(action func(*Connection) *future.Task, timeout time.Duration) (bool, error) {
	var tasks []*future.Task
	_, err := m.thread.PostAsync(func() error {
		m.thread.Walk(func(h reactor.Handle) {
			if c := connectionOf(h); c != nil {
				tasks = append(tasks, action(c))
			}
		})
		return nil
	}).Result()
	if err != nil {
		return false, err
	}

	var g errgroup.Group
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			_, err := t.Result()
			return err
		})
	}
	all := make(chan error, 1)
	go func() { all <- g.Wait() }()

	timer := m.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case err := <-all:
		if err != nil {
			return false, err
		}
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func connectionOf(h reactor.Handle) *Connection {
	s, ok := h.(reactor.StreamHandle)
	if !ok {
		return nil
	}
	c, _ := s.UserData().(*Connection)
	return c
}
