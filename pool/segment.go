// File: pool/segment.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size memory segments backing pipe buffers.

package pool

import (
	"sync"
	"sync/atomic"
)

// DefaultSegmentSize matches the minimum read allocation of a connection.
const DefaultSegmentSize = 4096

// Segment is one pooled block of memory.
type Segment struct {
	data []byte
	pool *SegmentPool
	used atomic.Bool
}

// Bytes returns the full backing slice.
func (s *Segment) Bytes() []byte { return s.data }

// Len returns the capacity available to writers.
func (s *Segment) Len() int { return len(s.data) }

// Release returns the segment to its pool. Extra calls are ignored.
func (s *Segment) Release() {
	if !s.used.CompareAndSwap(true, false) {
		return
	}
	if s.pool != nil {
		s.pool.put(s)
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Gets     int64
	Puts     int64
	InUse    int64
	Oversize int64
}

// SegmentPool hands out segments of a fixed size; larger requests are
// served with unpooled segments.
type SegmentPool struct {
	pool sync.Pool
	size int

	gets     atomic.Int64
	puts     atomic.Int64
	oversize atomic.Int64
}

// NewSegmentPool creates a pool of size-byte segments.
func NewSegmentPool(size int) *SegmentPool {
	if size <= 0 {
		size = DefaultSegmentSize
	}
	p := &SegmentPool{size: size}
	p.pool.New = func() any {
		return &Segment{data: make([]byte, p.size), pool: p}
	}
	return p
}

// SegmentSize is the size of pooled segments.
func (p *SegmentPool) SegmentSize() int { return p.size }

// Get returns a segment holding at least minSize bytes.
func (p *SegmentPool) Get(minSize int) *Segment {
	p.gets.Add(1)
	if minSize > p.size {
		p.oversize.Add(1)
		s := &Segment{data: make([]byte, minSize)}
		s.used.Store(true)
		return s
	}
	s := p.pool.Get().(*Segment)
	s.used.Store(true)
	return s
}

func (p *SegmentPool) put(s *Segment) {
	p.puts.Add(1)
	p.pool.Put(s)
}

// Stats returns current counters.
func (p *SegmentPool) Stats() Stats {
	gets, puts, over := p.gets.Load(), p.puts.Load(), p.oversize.Load()
	return Stats{Gets: gets, Puts: puts, InUse: gets - puts - over, Oversize: over}
}
