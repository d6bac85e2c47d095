//go:build !linux

// File: reactor/socket_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

// NewStreamHandle is not available on this platform.
func NewStreamHandle(t *Thread, kind HandleKind) (StreamHandle, error) {
	return nil, errUnsupported
}

// Listen is not available on this platform.
func (t *Thread) Listen(ep Endpoint, opts ListenOptions, cb ConnectionFunc) (ListenHandle, error) {
	return nil, errUnsupported
}
