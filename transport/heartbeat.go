// File: transport/heartbeat.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-transport/internal/registry"
)

// Heartbeat ticks every live connection at a fixed interval so armed
// timeouts fire.
type Heartbeat struct {
	clock       clock.Clock
	interval    time.Duration
	connections *registry.Registry[*Connection]
	log         *zap.Logger

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

// NewHeartbeat creates a stopped heartbeat.
func NewHeartbeat(clk clock.Clock, interval time.Duration, connections *registry.Registry[*Connection], log *zap.Logger) *Heartbeat {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeat{clock: clk, interval: interval, connections: connections, log: log}
}

// Start launches the ticking goroutine. Calling it twice is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quit != nil {
		return
	}
	h.quit = make(chan struct{})
	h.done = make(chan struct{})
	go h.loop(h.clock.Ticker(h.interval), h.quit, h.done)
}

func (h *Heartbeat) loop(ticker *clock.Ticker, quit, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			h.OnHeartbeat(now)
		case <-quit:
			return
		}
	}
}

// OnHeartbeat ticks every registered connection with now.
func (h *Heartbeat) OnHeartbeat(now time.Time) {
	start := h.clock.Now()
	h.connections.Range(func(_ string, c *Connection) {
		c.Tick(now)
	})
	if took := h.clock.Since(start); took > h.interval {
		h.log.Warn("heartbeat took longer than its interval",
			zap.Duration("took", took), zap.Duration("interval", h.interval))
	}
}

// Stop ends the ticking goroutine and waits for it.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	quit, done := h.quit, h.done
	h.quit, h.done = nil, nil
	h.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
}
