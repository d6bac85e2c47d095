// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for the transport pipes.
// Segments are fixed-size blocks recycled through sync.Pool; a pipe chains
// them and releases each one as soon as the reader consumed it.
package pool
