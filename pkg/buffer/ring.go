// Package buffer provides a bounded sliding-window buffer used to hand
// audio frames and log lines between producer and consumer goroutines.
package buffer

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// ErrDone is returned by Next when the buffer is closed for writing
// and no elements remain.
var ErrDone = errors.New("buffer: done")

// Ring is a thread-safe ring buffer holding the most recent elements.
// When full, adding a new element overwrites the oldest one, keeping a
// sliding window of the freshest data. That makes it suitable for live
// audio frames, where stale data is worth less than recent data.
type Ring[T any] struct {
	notify chan struct{}

	mu         sync.Mutex
	buf        []T
	head, tail int64
	closeWrite bool
	closeErr   error
}

// NewRing creates a ring buffer holding at most size elements.
func NewRing[T any](size int) *Ring[T] {
	return &Ring[T]{
		notify: make(chan struct{}, 1),
		buf:    make([]T, size),
	}
}

// Add appends one element. If the buffer is full the oldest element is
// overwritten and the window advances.
func (rb *Ring[T]) Add(t T) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closeErr != nil {
		return fmt.Errorf("buffer: add to closed buffer: %w", rb.closeErr)
	}
	if rb.closeWrite {
		return fmt.Errorf("buffer: add to closed buffer: %w", io.ErrClosedPipe)
	}
	tail := rb.tail % int64(len(rb.buf))
	rb.buf[tail] = t
	rb.tail++
	if rb.tail-rb.head > int64(len(rb.buf)) {
		rb.head++
	}
	select {
	case rb.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the oldest element, blocking until one is
// available. Returns ErrDone once the buffer is closed for writing and
// drained, or the close error if the buffer was closed with one.
func (rb *Ring[T]) Next() (t T, err error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closeErr != nil {
		err = fmt.Errorf("buffer: next from closed buffer: %w", rb.closeErr)
		return
	}
	for rb.head == rb.tail {
		if rb.closeWrite {
			err = ErrDone
			return
		}
		rb.mu.Unlock()
		<-rb.notify
		rb.mu.Lock()
		if rb.closeErr != nil {
			err = fmt.Errorf("buffer: next from closed buffer: %w", rb.closeErr)
			return
		}
	}
	head := rb.head % int64(len(rb.buf))
	t = rb.buf[head]
	rb.head++
	return t, nil
}

// TryNext removes and returns the oldest element without blocking.
// The boolean reports whether an element was available. A closed-and-
// drained buffer returns ErrDone; a buffer closed with an error returns
// that error.
func (rb *Ring[T]) TryNext() (t T, ok bool, err error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closeErr != nil {
		err = fmt.Errorf("buffer: next from closed buffer: %w", rb.closeErr)
		return
	}
	if rb.head == rb.tail {
		if rb.closeWrite {
			err = ErrDone
		}
		return
	}
	head := rb.head % int64(len(rb.buf))
	t = rb.buf[head]
	rb.head++
	return t, true, nil
}

// Len returns the number of buffered elements.
func (rb *Ring[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.tail - rb.head)
}

// Items returns a copy of the buffered elements, oldest first.
func (rb *Ring[T]) Items() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.head == rb.tail {
		return nil
	}
	h := rb.head % int64(len(rb.buf))
	t := rb.tail % int64(len(rb.buf))
	if h < t {
		return slices.Clone(rb.buf[h:t])
	}
	return slices.Concat(rb.buf[h:], rb.buf[:t])
}

// Reset discards all buffered elements.
func (rb *Ring[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.tail = 0
}

// CloseWrite closes the write side. Pending elements remain readable;
// once drained, Next returns ErrDone.
func (rb *Ring[T]) CloseWrite() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closeWrite {
		return nil
	}
	rb.closeWrite = true
	close(rb.notify)
	return nil
}

// CloseWithError closes both sides of the buffer. Blocked and future
// calls return err. A nil err is replaced with io.ErrClosedPipe.
func (rb *Ring[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closeErr != nil {
		return nil
	}
	rb.closeErr = err
	if !rb.closeWrite {
		rb.closeWrite = true
		close(rb.notify)
	}
	return nil
}

// Close closes the buffer. Equivalent to CloseWithError(io.ErrClosedPipe).
func (rb *Ring[T]) Close() error {
	return rb.CloseWithError(io.ErrClosedPipe)
}

// Error returns the error the buffer was closed with, if any.
func (rb *Ring[T]) Error() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closeErr
}
