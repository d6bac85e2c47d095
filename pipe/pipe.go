// File: pipe/pipe.go
// Package pipe
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-producer, single-consumer byte pipe over pooled segments with
// writer backpressure. The writer commits bytes with Advance and publishes
// them with Flush; a flush that crosses the pause threshold stays pending
// until the reader consumes enough data to drop below the resume threshold.

package pipe

import (
	"context"
	"errors"
	"sync"

	"github.com/momentics/hioload-transport/future"
	"github.com/momentics/hioload-transport/pool"
)

var (
	ErrReaderCompleted = errors.New("pipe: reading is not allowed after the reader completed")
	ErrInvalidAdvance  = errors.New("pipe: advance outside of the read buffer")
)

// Options configures a pipe.
type Options struct {
	Pool                  *pool.SegmentPool
	PauseWriterThreshold  int64
	ResumeWriterThreshold int64
	MinimumSegmentSize    int
}

// DefaultOptions returns options with a 1 MiB pause threshold.
func DefaultOptions(p *pool.SegmentPool) Options {
	return Options{
		Pool:                  p,
		PauseWriterThreshold:  1 << 20,
		ResumeWriterThreshold: 1 << 19,
		MinimumSegmentSize:    pool.DefaultSegmentSize,
	}
}

// FlushResult reports the reader state observed by a flush.
type FlushResult struct {
	IsCanceled  bool
	IsCompleted bool
}

// ReadResult is the data visible to the reader.
type ReadResult struct {
	Buffer      Buffer
	IsCanceled  bool
	IsCompleted bool
}

type chunk struct {
	seg      *pool.Segment
	off, end int
}

// Pipe connects one Writer with one Reader.
type Pipe struct {
	mu   sync.Mutex
	opts Options

	chunks    []*chunk
	readable  int64
	unflushed int64
	examined  bool

	writerDone bool
	writerErr  error
	readerDone bool
	readerErr  error

	readCanceled  bool
	flushCanceled bool
	flushWaiter   *future.Future[FlushResult]
	readSignal    chan struct{}

	reader Reader
	writer Writer
}

// New creates a pipe.
func New(opts Options) *Pipe {
	if opts.Pool == nil {
		opts.Pool = pool.NewSegmentPool(opts.MinimumSegmentSize)
	}
	if opts.MinimumSegmentSize <= 0 {
		opts.MinimumSegmentSize = opts.Pool.SegmentSize()
	}
	if opts.ResumeWriterThreshold <= 0 || opts.ResumeWriterThreshold > opts.PauseWriterThreshold {
		opts.ResumeWriterThreshold = opts.PauseWriterThreshold / 2
	}
	p := &Pipe{opts: opts}
	p.reader.p = p
	p.writer.p = p
	return p
}

// Reader returns the consuming end.
func (p *Pipe) Reader() *Reader { return &p.reader }

// Writer returns the producing end.
func (p *Pipe) Writer() *Writer { return &p.writer }

// Buffered returns flushed and unflushed bytes not yet consumed.
func (p *Pipe) Buffered() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readable + p.unflushed
}

func (p *Pipe) signalReader() {
	if p.readSignal != nil {
		close(p.readSignal)
		p.readSignal = nil
	}
}

func (p *Pipe) waitSignal() <-chan struct{} {
	if p.readSignal == nil {
		p.readSignal = make(chan struct{})
	}
	return p.readSignal
}

func (p *Pipe) resolveFlush(res FlushResult) {
	if w := p.flushWaiter; w != nil {
		p.flushWaiter = nil
		w.Resolve(res, nil)
	}
}

func (p *Pipe) buffer() Buffer {
	segs := make([][]byte, 0, len(p.chunks))
	remaining := p.readable
	for _, c := range p.chunks {
		if remaining == 0 {
			break
		}
		n := int64(c.end - c.off)
		if n == 0 {
			continue
		}
		if n > remaining {
			n = remaining
		}
		segs = append(segs, c.seg.Bytes()[c.off:c.off+int(n)])
		remaining -= n
	}
	return Buffer{segs: segs, n: p.readable}
}

func (p *Pipe) consume(n int64) {
	p.readable -= n
	for _, c := range p.chunks {
		if n == 0 {
			break
		}
		avail := int64(c.end - c.off)
		if avail > n {
			c.off += int(n)
			n = 0
			break
		}
		c.off = c.end
		n -= avail
	}
	for len(p.chunks) > 1 && p.chunks[0].off == p.chunks[0].end {
		p.chunks[0].seg.Release()
		p.chunks[0] = nil
		p.chunks = p.chunks[1:]
	}
}

// releaseAll drops buffered data. The tail segment survives while the
// writer is open since memory from GetMemory may still be in use.
func (p *Pipe) releaseAll() {
	keep := 0
	if !p.writerDone && len(p.chunks) > 0 {
		keep = 1
	}
	n := len(p.chunks) - keep
	for i := 0; i < n; i++ {
		p.chunks[i].seg.Release()
		p.chunks[i] = nil
	}
	if keep == 1 {
		tail := p.chunks[n]
		tail.off = tail.end
		p.chunks[n] = nil
		p.chunks = append(p.chunks[:0], tail)
	} else {
		p.chunks = p.chunks[:0]
	}
	p.readable, p.unflushed = 0, 0
}

func (p *Pipe) readResult() (ReadResult, error) {
	res := ReadResult{Buffer: p.buffer(), IsCompleted: p.writerDone}
	if p.writerDone {
		return res, p.writerErr
	}
	return res, nil
}

// Writer is the producing end of a pipe.
type Writer struct{ p *Pipe }

// GetMemory returns writable memory of at least sizeHint bytes. The memory
// stays valid until the next Advance.
func (w *Writer) GetMemory(sizeHint int) []byte {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if sizeHint <= 0 {
		sizeHint = 1
	}
	if n := len(p.chunks); n > 0 {
		tail := p.chunks[n-1]
		if tail.seg.Len()-tail.end >= sizeHint {
			return tail.seg.Bytes()[tail.end:]
		}
	}
	size := sizeHint
	if size < p.opts.MinimumSegmentSize {
		size = p.opts.MinimumSegmentSize
	}
	seg := p.opts.Pool.Get(size)
	p.chunks = append(p.chunks, &chunk{seg: seg})
	return seg.Bytes()
}

// Advance commits n bytes written into the memory from GetMemory.
func (w *Writer) Advance(n int) {
	if n == 0 {
		return
	}
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	last := len(p.chunks) - 1
	if n < 0 || last < 0 || p.chunks[last].end+n > p.chunks[last].seg.Len() {
		panic("pipe: advanced past the end of the buffer")
	}
	p.chunks[last].end += n
	p.unflushed += int64(n)
}

// Flush publishes committed bytes to the reader. The returned future is
// pending while the reader is behind the pause threshold.
func (w *Writer) Flush() *future.Future[FlushResult] {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unflushed > 0 {
		p.readable += p.unflushed
		p.unflushed = 0
		p.examined = false
		p.signalReader()
	}
	if p.readerDone {
		p.releaseAll()
		return future.Completed(FlushResult{IsCompleted: true}, nil)
	}
	if p.flushCanceled {
		p.flushCanceled = false
		return future.Completed(FlushResult{IsCanceled: true}, nil)
	}
	if p.opts.PauseWriterThreshold > 0 && p.readable >= p.opts.PauseWriterThreshold {
		if p.flushWaiter == nil {
			p.flushWaiter = future.New[FlushResult]()
		}
		return p.flushWaiter
	}
	return future.Completed(FlushResult{}, nil)
}

// Write copies b into the pipe and flushes.
func (w *Writer) Write(b []byte) *future.Future[FlushResult] {
	for len(b) > 0 {
		mem := w.GetMemory(1)
		n := copy(mem, b)
		w.Advance(n)
		b = b[n:]
	}
	return w.Flush()
}

// CancelPendingFlush releases the pending flush, or the next one, with
// IsCanceled set.
func (w *Writer) CancelPendingFlush() {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flushWaiter != nil {
		p.resolveFlush(FlushResult{IsCanceled: true})
		return
	}
	p.flushCanceled = true
}

// Complete marks the end of the data. A non-nil err is returned to the
// reader alongside any remaining data. Extra calls are ignored.
func (w *Writer) Complete(err error) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerDone {
		return
	}
	p.writerDone = true
	p.writerErr = err
	p.readable += p.unflushed
	p.unflushed = 0
	p.examined = false
	p.resolveFlush(FlushResult{IsCompleted: true})
	p.signalReader()
	if p.readerDone {
		p.releaseAll()
	}
}

// IsCompleted reports whether Complete was called.
func (w *Writer) IsCompleted() bool {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.writerDone
}

// Reader is the consuming end of a pipe.
type Reader struct{ p *Pipe }

// Read waits for flushed data, writer completion or cancellation.
func (r *Reader) Read(ctx context.Context) (ReadResult, error) {
	p := r.p
	for {
		p.mu.Lock()
		if p.readerDone {
			p.mu.Unlock()
			return ReadResult{}, ErrReaderCompleted
		}
		if p.readCanceled {
			p.readCanceled = false
			res := ReadResult{Buffer: p.buffer(), IsCanceled: true, IsCompleted: p.writerDone}
			p.mu.Unlock()
			return res, nil
		}
		if (p.readable > 0 && !p.examined) || p.writerDone {
			res, err := p.readResult()
			p.mu.Unlock()
			return res, err
		}
		sig := p.waitSignal()
		p.mu.Unlock()

		select {
		case <-sig:
		case <-ctx.Done():
			return ReadResult{}, ctx.Err()
		}
	}
}

// TryRead returns the current data without waiting.
func (r *Reader) TryRead() (ReadResult, bool, error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerDone {
		return ReadResult{}, false, ErrReaderCompleted
	}
	if p.readable == 0 && !p.writerDone && !p.readCanceled {
		return ReadResult{}, false, nil
	}
	canceled := p.readCanceled
	p.readCanceled = false
	res, err := p.readResult()
	res.IsCanceled = canceled
	return res, true, err
}

// AdvanceTo releases consumed bytes and records how far the reader looked.
// When examined covers the whole buffer the next Read waits for new data.
func (r *Reader) AdvanceTo(consumed, examined int64) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerDone {
		return
	}
	if consumed < 0 || consumed > p.readable || examined < consumed {
		panic(ErrInvalidAdvance)
	}
	before := p.readable
	p.consume(consumed)
	p.examined = examined >= before
	if p.flushWaiter != nil && p.readable < p.opts.ResumeWriterThreshold {
		p.resolveFlush(FlushResult{})
	}
}

// CancelPendingRead makes the pending Read, or the next one, return with
// IsCanceled set.
func (r *Reader) CancelPendingRead() {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCanceled = true
	p.signalReader()
}

// Complete stops reading; pending and future flushes report IsCompleted.
func (r *Reader) Complete(err error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerDone {
		return
	}
	p.readerDone = true
	p.readerErr = err
	p.releaseAll()
	p.resolveFlush(FlushResult{IsCompleted: true})
	p.signalReader()
}

// Err returns the error the reader completed with.
func (r *Reader) Err() error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.readerErr
}
