// File: reactor/writereq.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

// DefaultMaxPooledWriteReqs bounds the free list of a Thread.
const DefaultMaxPooledWriteReqs = 1024

// maxIovecs is IOV_MAX on Linux.
const maxIovecs = 1024

// WriteReq is one in-flight write. A request belongs to a single write
// between Allocate and Return.
type WriteReq struct {
	bufs  [][]byte
	iovs  [][]byte
	cb    WriteCallback
	total int
	inUse bool
}

// Init prepares the request for a new write. Empty slices are dropped.
func (r *WriteReq) Init(bufs [][]byte, cb WriteCallback) {
	r.bufs = r.bufs[:0]
	r.total = 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		r.bufs = append(r.bufs, b)
		r.total += len(b)
	}
	r.cb = cb
}

// Len returns the number of bytes the request was initialized with.
func (r *WriteReq) Len() int { return r.total }

// Buffers returns the bytes still waiting to be written.
func (r *WriteReq) Buffers() [][]byte { return r.bufs }

// Done reports whether every byte was written.
func (r *WriteReq) Done() bool { return len(r.bufs) == 0 }

// Iovecs returns at most maxIovecs pending slices.
func (r *WriteReq) Iovecs() [][]byte {
	r.iovs = r.iovs[:0]
	for i := 0; i < len(r.bufs) && i < maxIovecs; i++ {
		r.iovs = append(r.iovs, r.bufs[i])
	}
	return r.iovs
}

// Consume drops n written bytes from the front.
func (r *WriteReq) Consume(n int) {
	for n > 0 && len(r.bufs) > 0 {
		if n < len(r.bufs[0]) {
			r.bufs[0] = r.bufs[0][n:]
			return
		}
		n -= len(r.bufs[0])
		r.bufs[0] = nil
		r.bufs = r.bufs[1:]
	}
}

// Complete runs the callback once.
func (r *WriteReq) Complete(status int) {
	cb := r.cb
	r.cb = nil
	if cb != nil {
		cb(r, status)
	}
}

func (r *WriteReq) reset() {
	for i := range r.bufs {
		r.bufs[i] = nil
	}
	for i := range r.iovs {
		r.iovs[i] = nil
	}
	r.bufs = r.bufs[:0]
	r.iovs = r.iovs[:0]
	r.cb = nil
	r.total = 0
}

// WriteReqPool is a fixed-capacity free list. It is owned by one Thread
// and must only be used on that Thread's loop.
type WriteReqPool struct {
	free     []*WriteReq
	max      int
	disposed bool
}

// NewWriteReqPool creates a pool that keeps at most max idle requests.
func NewWriteReqPool(max int) *WriteReqPool {
	if max <= 0 {
		max = DefaultMaxPooledWriteReqs
	}
	return &WriteReqPool{max: max}
}

// Allocate checks out a request, creating one when the free list is empty.
func (p *WriteReqPool) Allocate() *WriteReq {
	var req *WriteReq
	if n := len(p.free); n > 0 {
		req = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		req = &WriteReq{}
	}
	if req.inUse {
		panic("reactor: write request checked out twice")
	}
	req.inUse = true
	return req
}

// Return gives the request back. Requests over capacity, or returned after
// Dispose, are dropped.
func (p *WriteReqPool) Return(req *WriteReq) {
	if !req.inUse {
		panic("reactor: write request returned twice")
	}
	req.inUse = false
	req.reset()
	if p.disposed || len(p.free) >= p.max {
		return
	}
	p.free = append(p.free, req)
}

// Len is the number of idle requests.
func (p *WriteReqPool) Len() int { return len(p.free) }

// Dispose empties the pool.
func (p *WriteReqPool) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true
	for i := range p.free {
		p.free[i] = nil
	}
	p.free = nil
}
