// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded native event loop that owns
// sockets. Each Thread locks one goroutine to an OS thread, polls its file
// descriptors with epoll and runs posted work items in FIFO order. All
// handle operations (read start/stop, write, accept, close) must run on the
// owning Thread; other goroutines hand work over with Post or PostAsync.
package reactor
