// File: future/future.go
// Package future
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-assignment results that may complete synchronously or later on
// another goroutine. Used at every suspension point between the reactor
// loop and application goroutines.

package future

import (
	"context"
	"sync"
)

// Future holds a value that is resolved exactly once.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// Task is a Future without a value.
type Task = Future[struct{}]

// New returns an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns an already resolved future.
func Completed[T any](v T, err error) *Future[T] {
	f := New[T]()
	f.Resolve(v, err)
	return f
}

// NewTask returns an unresolved task.
func NewTask() *Task { return New[struct{}]() }

// CompletedTask returns a resolved task carrying err.
func CompletedTask(err error) *Task { return Completed(struct{}{}, err) }

// Resolve sets the result. Only the first call wins; it reports whether it did.
func (f *Future[T]) Resolve(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		won = true
	})
	return won
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsCompleted reports whether the result is available without blocking.
func (f *Future[T]) IsCompleted() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// FromChan resolves when ch is closed. The watcher goroutine gives up,
// leaving the task pending, once cancel is closed.
func FromChan(ch, cancel <-chan struct{}) *Task {
	t := NewTask()
	go func() {
		select {
		case <-ch:
			t.Resolve(struct{}{}, nil)
		case <-cancel:
		}
	}()
	return t
}

// WhenAny resolves with the result of the first task to finish.
func WhenAny(tasks ...*Task) *Task {
	first := NewTask()
	for _, t := range tasks {
		if t.IsCompleted() {
			_, err := t.Result()
			first.Resolve(struct{}{}, err)
			return first
		}
	}
	for _, t := range tasks {
		go func(t *Task) {
			select {
			case <-t.Done():
				_, err := t.Result()
				first.Resolve(struct{}{}, err)
			case <-first.Done():
			}
		}(t)
	}
	return first
}
