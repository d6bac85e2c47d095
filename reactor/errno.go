// File: reactor/errno.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion status codes. Non-negative values are byte counts, negative
// values are errno codes or EOF, following the libuv convention.

package reactor

import "fmt"

const (
	EOF          = -4095
	EBADF        = -9
	EAGAIN       = -11
	EINVAL       = -22
	EPIPE        = -32
	EIO          = -5
	ECONNABORTED = -103
	ECONNRESET   = -104
	ENOBUFS      = -105
	ENOTCONN     = -107
	ECANCELED    = -125
)

// ListenBacklog is the accept queue length used by listeners.
const ListenBacklog = 128

var statusNames = map[int]string{
	EOF:          "EOF",
	EBADF:        "EBADF",
	EAGAIN:       "EAGAIN",
	EINVAL:       "EINVAL",
	EPIPE:        "EPIPE",
	EIO:          "EIO",
	ECONNABORTED: "ECONNABORTED",
	ECONNRESET:   "ECONNRESET",
	ENOBUFS:      "ENOBUFS",
	ENOTCONN:     "ENOTCONN",
	ECANCELED:    "ECANCELED",
}

// Errno is a negative completion status used as an error.
type Errno int

func (e Errno) Error() string {
	if name, ok := statusNames[int(e)]; ok {
		return fmt.Sprintf("%s (%d)", name, int(e))
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Check converts a status into an error; non-negative statuses are success.
func Check(status int) error {
	if status >= 0 {
		return nil
	}
	return Errno(status)
}

// IsConnectionReset reports statuses that mean the peer went away.
func IsConnectionReset(status int) bool {
	return status == ECONNRESET || status == EPIPE || status == ENOTCONN
}
