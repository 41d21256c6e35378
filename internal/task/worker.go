package task

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// joinTimeout bounds how long Stop waits for a worker to honor its
// stop-token before detaching.
const joinTimeout = time.Second

// Worker is a long-lived streaming goroutine carrying a stop-token. The
// owning card requests stop on destruction; the worker checks the token at
// every I/O boundary and exits promptly.
type Worker struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartWorker launches fn with a fresh stop-token.
func StartWorker(fn func(stop <-chan struct{})) *Worker {
	w := &Worker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(w.done)

		fn(w.stop)
	}()

	return w
}

// Stop requests cancellation and joins the worker. A worker that ignores
// its token longer than the join timeout is logged and detached; it owns no
// resources beyond what fn itself scoped.
func (w *Worker) Stop() {
	if w == nil {
		return
	}

	w.stopOnce.Do(func() { close(w.stop) })

	select {
	case <-w.done:
	case <-time.After(joinTimeout):
		logrus.Warn("worker ignored stop token; detaching")
	}
}

// StopAsync requests cancellation without joining.
func (w *Worker) StopAsync() {
	if w == nil {
		return
	}

	w.stopOnce.Do(func() { close(w.stop) })
}

// Done reports whether the worker has returned.
func (w *Worker) Done() bool {
	if w == nil {
		return true
	}

	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
