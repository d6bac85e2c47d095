//go:build linux

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-transport/api"
	"github.com/momentics/hioload-transport/control"
	"github.com/momentics/hioload-transport/fake"
	"github.com/momentics/hioload-transport/pipe"
	"github.com/momentics/hioload-transport/pool"
	"github.com/momentics/hioload-transport/reactor"
)

type outputFixture struct {
	thread   *reactor.Thread
	stream   *fake.Stream
	pipe     *pipe.Pipe
	consumer *OutputConsumer
	logs     *observer.ObservedLogs
}

func newOutputFixture(t *testing.T) *outputFixture {
	t.Helper()
	th := reactor.NewThread(reactor.ThreadOptions{Name: t.Name(), MaxPooledWriteReqs: 4})
	require.NoError(t, th.Start())
	t.Cleanup(func() { _ = th.Stop(time.Second) })

	s, err := fake.Open(th)
	require.NoError(t, err)
	core, logs := observer.New(zap.DebugLevel)
	p := pipe.New(pipe.DefaultOptions(pool.NewSegmentPool(64)))
	c := NewOutputConsumer(p.Reader(), th, s, "conn-1", NewTrace(zap.New(core)), control.NewMetrics(nil))
	return &outputFixture{thread: th, stream: s, pipe: p, consumer: c, logs: logs}
}

func (f *outputFixture) run() <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.consumer.WriteOutput() }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("write loop did not finish")
		return nil
	}
}

func TestOutputWritesUntilCompleted(t *testing.T) {
	f := newOutputFixture(t)
	done := f.run()

	w := f.pipe.Writer()
	w.Write([]byte("A"))
	require.Eventually(t, func() bool { return len(f.stream.Written()) == 1 }, waitFor, time.Millisecond)
	w.Write([]byte("B"))
	require.Eventually(t, func() bool { return len(f.stream.Written()) == 2 }, waitFor, time.Millisecond)
	w.Complete(nil)

	require.NoError(t, wait(t, done))
	assert.Equal(t, [][]byte{[]byte("A"), []byte("B")}, f.stream.Written())
	assert.EqualValues(t, 0, f.pipe.Buffered())

	// requests went back to the pool
	var idle int
	_, err := f.thread.PostAsync(func() error {
		idle = f.thread.WriteReqPool().Len()
		return nil
	}).Result()
	require.NoError(t, err)
	assert.Equal(t, 1, idle)
}

func TestOutputResetLeavesRegionUnconsumed(t *testing.T) {
	f := newOutputFixture(t)
	f.stream.ScriptWrites(reactor.ECONNRESET)
	w := f.pipe.Writer()
	w.Write([]byte("A"))

	err := wait(t, f.run())
	require.Error(t, err)
	assert.True(t, api.IsConnectionReset(err))

	// B arrives after the failure and is never attempted
	w.Write([]byte("B"))
	assert.Equal(t, 1, f.stream.WriteAttempts())
	assert.Empty(t, f.stream.Written())

	res, ok, rerr := f.pipe.Reader().TryRead()
	require.True(t, ok)
	require.NoError(t, rerr)
	assert.Equal(t, "AB", string(res.Buffer.Bytes()))

	entries := f.logs.FilterMessage("connection reset").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Zero(t, f.logs.FilterMessage("connection error").Len())
}

func TestOutputWriteErrorIsLogged(t *testing.T) {
	f := newOutputFixture(t)
	f.stream.ScriptWrites(reactor.EIO)
	f.pipe.Writer().Write([]byte("A"))

	err := wait(t, f.run())
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeIO, apiErr.Code)

	entries := f.logs.FilterMessage("connection error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestOutputAfterSocketClosed(t *testing.T) {
	f := newOutputFixture(t)
	_, err := f.thread.PostAsync(func() error {
		f.stream.Close()
		return nil
	}).Result()
	require.NoError(t, err)

	f.pipe.Writer().Write([]byte("late"))
	require.NoError(t, wait(t, f.run()))
	assert.Zero(t, f.stream.WriteAttempts())
	assert.EqualValues(t, 0, f.pipe.Buffered())
}

func TestOutputCanceledRead(t *testing.T) {
	f := newOutputFixture(t)
	done := f.run()
	f.pipe.Reader().CancelPendingRead()
	require.NoError(t, wait(t, done))
}

func TestOutputCompletedWithError(t *testing.T) {
	f := newOutputFixture(t)
	done := f.run()
	f.pipe.Writer().Complete(api.ErrConnectionAborted)
	assert.ErrorIs(t, wait(t, done), api.ErrConnectionAborted)
}
