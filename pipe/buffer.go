// File: pipe/buffer.go
// Package pipe
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipe

// Buffer is a read-only view over one or more segments. It is valid until
// the next AdvanceTo on the reader that produced it.
type Buffer struct {
	segs [][]byte
	n    int64
}

// NewBuffer wraps segments in a Buffer.
func NewBuffer(segs ...[]byte) Buffer {
	var n int64
	for _, s := range segs {
		n += int64(len(s))
	}
	return Buffer{segs: segs, n: n}
}

// Len returns the total number of bytes.
func (b Buffer) Len() int64 { return b.n }

// IsEmpty reports whether the buffer holds no bytes.
func (b Buffer) IsEmpty() bool { return b.n == 0 }

// Segments returns the underlying slices in order.
func (b Buffer) Segments() [][]byte { return b.segs }

// Bytes copies the buffer into one slice.
func (b Buffer) Bytes() []byte {
	out := make([]byte, 0, b.n)
	for _, s := range b.segs {
		out = append(out, s...)
	}
	return out
}
