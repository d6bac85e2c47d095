//go:build !linux

// File: reactor/poller_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-transport/api"
)

var errUnsupported = fmt.Errorf("reactor: epoll is required: %w", api.ErrNotSupported)

type poller struct{}

func newPoller() (*poller, error) { return nil, errUnsupported }

func (p *poller) add(fd int, events uint32) error                       { return errUnsupported }
func (p *poller) mod(fd int, events uint32) error                       { return errUnsupported }
func (p *poller) del(fd int) error                                      { return errUnsupported }
func (p *poller) wait(timeoutMs int, fn func(fd int, ev uint32)) error { return errUnsupported }
func (p *poller) wake() error                                           { return errUnsupported }
func (p *poller) close() error                                          { return nil }
