// Package task holds the ground rules for background work: one-shot futures,
// cancellable streaming workers, a shared bounded pool, and the subprocess
// runner. Workers never touch the toolkit; they hand results back through
// values the render thread polls.
package task

// Oneshot carries the result of a single background computation. The render
// thread polls it with TryTake once per frame; the worker goroutine writes
// exactly once. Discarding a Oneshot mid-flight is safe: the buffered
// channel lets the worker finish and exit.
type Oneshot[T any] struct {
	ch    chan outcome[T]
	taken bool
}

type outcome[T any] struct {
	value T
	err   error
}

// Go starts fn on its own goroutine and returns the future for its result.
func Go[T any](fn func() (T, error)) *Oneshot[T] {
	o := &Oneshot[T]{ch: make(chan outcome[T], 1)}

	go func() {
		value, err := fn()
		o.ch <- outcome[T]{value: value, err: err}
	}()

	return o
}

// TryTake polls for the result without blocking. It returns ok=true exactly
// once, on the first call after the worker finished.
func (o *Oneshot[T]) TryTake() (value T, ok bool, err error) {
	if o == nil || o.taken {
		var zero T

		return zero, false, nil
	}

	select {
	case result := <-o.ch:
		o.taken = true

		return result.value, true, result.err
	default:
		var zero T

		return zero, false, nil
	}
}

// Pending reports whether a result is still owed. TryTake and Pending are
// render-thread-only; they need no lock.
func (o *Oneshot[T]) Pending() bool {
	return o != nil && !o.taken
}
