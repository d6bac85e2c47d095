// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-transport components.

package benchmarks

import (
	"context"
	"testing"

	"github.com/momentics/hioload-transport/pipe"
	"github.com/momentics/hioload-transport/pool"
	"github.com/momentics/hioload-transport/reactor"
)

// BenchmarkSegmentPool measures segment checkout and release.
func BenchmarkSegmentPool(b *testing.B) {
	p := pool.NewSegmentPool(pool.DefaultSegmentSize)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Get(2048).Release()
		}
	})
}

// BenchmarkWriteReqPool measures the loop-local request free list.
func BenchmarkWriteReqPool(b *testing.B) {
	p := reactor.NewWriteReqPool(reactor.DefaultMaxPooledWriteReqs)
	bufs := [][]byte{make([]byte, 64)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := p.Allocate()
		req.Init(bufs, nil)
		p.Return(req)
	}
}

// BenchmarkPipeThroughput pushes 4 KiB writes through a pipe consumed by
// another goroutine, with backpressure engaged.
func BenchmarkPipeThroughput(b *testing.B) {
	pp := pipe.New(pipe.Options{
		Pool:                 pool.NewSegmentPool(pool.DefaultSegmentSize),
		PauseWriterThreshold: 64 * 1024,
	})
	payload := make([]byte, 4096)
	done := make(chan struct{})

	go func() {
		defer close(done)
		r := pp.Reader()
		for {
			res, err := r.Read(context.Background())
			if err != nil {
				return
			}
			r.AdvanceTo(res.Buffer.Len(), res.Buffer.Len())
			if res.IsCompleted {
				return
			}
		}
	}()

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	w := pp.Writer()
	for i := 0; i < b.N; i++ {
		if _, err := w.Write(payload).Result(); err != nil {
			b.Fatal(err)
		}
	}
	w.Complete(nil)
	<-done
}
