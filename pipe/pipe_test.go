package pipe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-transport/pipe"
	"github.com/momentics/hioload-transport/pool"
)

func newPipe(segment int, pause int64) *pipe.Pipe {
	return pipe.New(pipe.Options{
		Pool:                 pool.NewSegmentPool(segment),
		PauseWriterThreshold: pause,
	})
}

func TestPipeWriteRead(t *testing.T) {
	p := newPipe(8, 0)
	w, r := p.Writer(), p.Reader()

	flush := w.Write([]byte("hello, segmented world"))
	require.True(t, flush.IsCompleted())

	res, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello, segmented world", string(res.Buffer.Bytes()))
	assert.Greater(t, len(res.Buffer.Segments()), 1)
	assert.False(t, res.IsCompleted)

	r.AdvanceTo(7, 7)
	assert.EqualValues(t, 15, p.Buffered())
	res, err = r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "segmented world", string(res.Buffer.Bytes()))
}

func TestPipeUnflushedIsInvisible(t *testing.T) {
	p := newPipe(64, 0)
	w, r := p.Writer(), p.Reader()

	mem := w.GetMemory(4)
	copy(mem, "abcd")
	w.Advance(4)
	_, ok, err := r.TryRead()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 4, p.Buffered())

	w.Flush()
	res, ok, err := r.TryRead()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abcd", string(res.Buffer.Bytes()))
}

func TestPipeBackpressure(t *testing.T) {
	p := pipe.New(pipe.Options{
		Pool:                  pool.NewSegmentPool(16),
		PauseWriterThreshold:  10,
		ResumeWriterThreshold: 5,
	})
	w, r := p.Writer(), p.Reader()

	flush := w.Write(make([]byte, 10))
	assert.False(t, flush.IsCompleted())

	res, err := r.Read(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 10, res.Buffer.Len())

	// still at or above the resume threshold
	r.AdvanceTo(4, 4)
	assert.False(t, flush.IsCompleted())

	res, err = r.Read(context.Background())
	require.NoError(t, err)
	r.AdvanceTo(2, res.Buffer.Len())
	require.True(t, flush.IsCompleted())
	fr, err := flush.Result()
	require.NoError(t, err)
	assert.False(t, fr.IsCanceled)
	assert.False(t, fr.IsCompleted)
}

func TestPipeReaderCompleteReleasesWriter(t *testing.T) {
	p := newPipe(16, 4)
	w, r := p.Writer(), p.Reader()

	flush := w.Write([]byte("12345"))
	require.False(t, flush.IsCompleted())

	r.Complete(nil)
	fr, _ := flush.Result()
	assert.True(t, fr.IsCompleted)

	fr, _ = w.Write([]byte("more")).Result()
	assert.True(t, fr.IsCompleted)
	assert.EqualValues(t, 0, p.Buffered())

	_, err := r.Read(context.Background())
	assert.ErrorIs(t, err, pipe.ErrReaderCompleted)
}

func TestPipeWriterCompleteCarriesError(t *testing.T) {
	p := newPipe(16, 0)
	w, r := p.Writer(), p.Reader()
	boom := errors.New("boom")

	mem := w.GetMemory(3)
	copy(mem, "end")
	w.Advance(3)
	w.Complete(boom)
	w.Complete(nil)
	assert.True(t, w.IsCompleted())

	res, err := r.Read(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.IsCompleted)
	assert.Equal(t, "end", string(res.Buffer.Bytes()))
}

func TestPipeCancelPendingRead(t *testing.T) {
	p := newPipe(16, 0)
	r := p.Reader()

	done := make(chan pipe.ReadResult, 1)
	go func() {
		res, _ := r.Read(context.Background())
		done <- res
	}()
	time.Sleep(5 * time.Millisecond)
	r.CancelPendingRead()

	select {
	case res := <-done:
		assert.True(t, res.IsCanceled)
	case <-time.After(time.Second):
		t.Fatal("read was not canceled")
	}
}

func TestPipeCancelPendingFlush(t *testing.T) {
	p := newPipe(16, 2)
	w := p.Writer()

	flush := w.Write([]byte("abc"))
	require.False(t, flush.IsCompleted())
	w.CancelPendingFlush()
	fr, _ := flush.Result()
	assert.True(t, fr.IsCanceled)

	// with nothing pending the cancellation sticks to the next flush
	p2 := newPipe(16, 0)
	p2.Writer().CancelPendingFlush()
	fr, _ = p2.Writer().Write([]byte("x")).Result()
	assert.True(t, fr.IsCanceled)
	fr, _ = p2.Writer().Flush().Result()
	assert.False(t, fr.IsCanceled)
}

func TestPipeExaminedWaitsForMoreData(t *testing.T) {
	p := newPipe(16, 0)
	w, r := p.Writer(), p.Reader()

	w.Write([]byte("partial"))
	res, err := r.Read(context.Background())
	require.NoError(t, err)
	r.AdvanceTo(0, res.Buffer.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	w.Write([]byte(" frame"))
	res, err = r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "partial frame", string(res.Buffer.Bytes()))
}

func TestPipeInvalidAdvancePanics(t *testing.T) {
	p := newPipe(16, 0)
	w, r := p.Writer(), p.Reader()
	w.Write([]byte("ab"))

	assert.PanicsWithValue(t, pipe.ErrInvalidAdvance, func() { r.AdvanceTo(3, 3) })
	assert.PanicsWithValue(t, pipe.ErrInvalidAdvance, func() { r.AdvanceTo(2, 1) })
	assert.Panics(t, func() { w.Advance(1 << 20) })
}

func TestBuffer(t *testing.T) {
	b := pipe.NewBuffer([]byte("ab"), nil, []byte("c"))
	assert.EqualValues(t, 3, b.Len())
	assert.False(t, b.IsEmpty())
	assert.Equal(t, "abc", string(b.Bytes()))
	assert.True(t, pipe.NewBuffer().IsEmpty())
}
