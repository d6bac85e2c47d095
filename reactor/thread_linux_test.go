//go:build linux

package reactor_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/reactor"
)

func startThread(t *testing.T) *reactor.Thread {
	t.Helper()
	th := reactor.NewThread(reactor.ThreadOptions{Name: t.Name()})
	require.NoError(t, th.Start())
	t.Cleanup(func() { _ = th.Stop(time.Second) })
	return th
}

func TestThreadPostOrder(t *testing.T) {
	th := startThread(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, th.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	_, err := th.PostAsync(func() error { return nil }).Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestThreadPostAsyncErrors(t *testing.T) {
	th := startThread(t)
	boom := errors.New("boom")

	_, err := th.PostAsync(func() error { return boom }).Result()
	assert.ErrorIs(t, err, boom)

	_, err = th.PostAsync(func() error { panic("bad") }).Result()
	assert.ErrorContains(t, err, "panicked")

	// the loop survives a panicking callback
	_, err = th.PostAsync(func() error { return nil }).Result()
	assert.NoError(t, err)
}

func TestThreadStopRejectsPosts(t *testing.T) {
	th := reactor.NewThread(reactor.ThreadOptions{})
	require.NoError(t, th.Start())
	require.NoError(t, th.Stop(time.Second))

	<-th.Stopped()
	assert.ErrorIs(t, th.Post(func() {}), api.ErrThreadStopped)
	_, err := th.PostAsync(func() error { return nil }).Result()
	assert.ErrorIs(t, err, api.ErrThreadStopped)
}

func TestThreadPostRacingStop(t *testing.T) {
	for round := 0; round < 20; round++ {
		th := reactor.NewThread(reactor.ThreadOptions{Name: t.Name()})
		require.NoError(t, th.Start())

		var wg sync.WaitGroup
		errs := make(chan error, 8*200)
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					if err := th.Post(func() {}); err != nil {
						errs <- err
					}
				}
			}()
		}
		require.NoError(t, th.Stop(time.Second))
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.ErrorIs(t, err, api.ErrThreadStopped)
		}
	}
}

func TestThreadStopClosesHandles(t *testing.T) {
	th := reactor.NewThread(reactor.ThreadOptions{})
	require.NoError(t, th.Start())

	var ln reactor.ListenHandle
	_, err := th.PostAsync(func() error {
		var err error
		ln, err = th.Listen(reactor.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, reactor.ListenOptions{}, func(reactor.ListenHandle, int) {})
		return err
	}).Result()
	require.NoError(t, err)

	require.NoError(t, th.Stop(100*time.Millisecond))
	assert.True(t, ln.IsClosed())
}

func TestThreadWalk(t *testing.T) {
	th := startThread(t)

	var count int
	_, err := th.PostAsync(func() error {
		for i := 0; i < 3; i++ {
			if _, err := reactor.NewStreamHandle(th, reactor.KindTCP); err != nil {
				return err
			}
		}
		th.Walk(func(h reactor.Handle) {
			if _, ok := h.(reactor.StreamHandle); ok {
				count++
			}
			h.Close()
		})
		if th.HandleCount() != 0 {
			return errors.New("handles left after close")
		}
		return nil
	}).Result()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

// echoServer accepts connections and writes back whatever it reads.
func echoServer(t *testing.T, th *reactor.Thread, ep reactor.Endpoint) net.Addr {
	t.Helper()
	var addr net.Addr
	_, err := th.PostAsync(func() error {
		ln, err := th.Listen(ep, reactor.ListenOptions{NoDelay: true}, func(l reactor.ListenHandle, status int) {
			if status < 0 {
				return
			}
			s, err := reactor.NewStreamHandle(th, ep.Kind())
			if err != nil {
				return
			}
			if err := l.Accept(s); err != nil {
				s.Close()
				return
			}
			buf := make([]byte, 1024)
			_ = s.ReadStart(
				func(reactor.StreamHandle, int) []byte { return buf },
				func(h reactor.StreamHandle, status int) {
					switch {
					case status > 0:
						data := append([]byte(nil), buf[:status]...)
						pool := th.WriteReqPool()
						req := pool.Allocate()
						h.Write(req, [][]byte{data}, func(r *reactor.WriteReq, _ int) { pool.Return(r) })
					case status < 0:
						h.Close()
					}
				})
		})
		if err != nil {
			return err
		}
		addr = ln.Addr()
		return nil
	}).Result()
	require.NoError(t, err)
	return addr
}

func TestSocketEchoTCP(t *testing.T) {
	th := startThread(t)
	addr := echoServer(t, th, reactor.Endpoint{Network: "tcp", Address: "127.0.0.1:0"})

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	msg := []byte("hello reactor")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestSocketEchoUnix(t *testing.T) {
	th := startThread(t)
	path := t.TempDir() + "/echo.sock"
	echoServer(t, th, reactor.Endpoint{Network: "unix", Address: path})

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("pipe"))
	require.NoError(t, err)
	got := make([]byte, 4)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "pipe", string(got))
}

func TestSocketWriteAfterCloseIsCanceled(t *testing.T) {
	th := startThread(t)
	status := make(chan int, 1)
	_, err := th.PostAsync(func() error {
		s, err := reactor.NewStreamHandle(th, reactor.KindTCP)
		if err != nil {
			return err
		}
		s.Close()
		pool := th.WriteReqPool()
		req := pool.Allocate()
		s.Write(req, [][]byte{[]byte("x")}, func(r *reactor.WriteReq, st int) {
			pool.Return(r)
			status <- st
		})
		return nil
	}).Result()
	require.NoError(t, err)

	select {
	case st := <-status:
		assert.Equal(t, reactor.ECANCELED, st)
	case <-time.After(2 * time.Second):
		t.Fatal("write callback did not run")
	}
}
