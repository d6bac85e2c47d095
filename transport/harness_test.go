//go:build linux

package transport

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-transport/config"
	"github.com/momentics/hioload-transport/fake"
	"github.com/momentics/hioload-transport/reactor"
)

const waitFor = 2 * time.Second

type harness struct {
	t      *testing.T
	thread *reactor.Thread
	tc     *TransportContext
	lctx   *ListenerContext
	app    *fake.Application
	clock  *clock.Mock
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.HeartbeatInterval = time.Second
	if mutate != nil {
		mutate(cfg)
	}

	th := reactor.NewThread(reactor.ThreadOptions{Name: t.Name()})
	require.NoError(t, th.Start())

	core, logs := observer.New(zap.DebugLevel)
	app := fake.NewApplication()
	tc := NewTransportContext(cfg, app, zap.New(core), nil)
	mock := clock.NewMock()
	tc.Clock = mock

	lctx, err := NewListenerContext(tc, reactor.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, th)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = NewConnectionManager(th, nil).WalkConnectionsAndAbort(time.Second)
		_ = th.Stop(time.Second)
	})
	return &harness{t: t, thread: th, tc: tc, lctx: lctx, app: app, clock: mock, logs: logs}
}

// connect starts a connection over a fake stream and returns the handler
// the application got for it.
func (h *harness) connect() (*Connection, *fake.Stream, *fake.Handler) {
	h.t.Helper()
	s, err := fake.Open(h.thread)
	require.NoError(h.t, err)

	cctx := NewConnectionContext(h.lctx, s.LocalAddr(), s.RemoteAddr())
	var conn *Connection
	h.onLoop(func() error {
		conn = NewConnection(cctx, s)
		return conn.Start()
	})
	handler, err := h.app.Next(waitFor)
	require.NoError(h.t, err)
	return conn, s, handler
}

func (h *harness) onLoop(fn func() error) {
	h.t.Helper()
	_, err := h.thread.PostAsync(fn).Result()
	require.NoError(h.t, err)
}

func waitClosed(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Closed().Done():
	case <-time.After(waitFor):
		t.Fatal("connection did not close")
	}
}
