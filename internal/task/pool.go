package task

import (
	"sync"
)

// Pool is a bounded set of worker goroutines over an unbounded FIFO task
// queue. Submission never blocks; completion is observed through counters
// the submitting card maintains itself.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. workers < 1 is clamped to 1.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)

	for i := 0; i < workers; i++ {
		go p.run()
	}

	return p
}

// Submit enqueues fn. Submitting to a closed pool drops the task.
func (p *Pool) Submit(fn func()) {
	if fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.queue = append(p.queue, fn)
	p.cond.Signal()
}

// Close stops accepting work, discards the pending queue, and joins the
// workers. Tasks already running finish normally.
func (p *Pool) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()

	for {
		p.mu.Lock()

		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}

		if p.closed && len(p.queue) == 0 {
			p.mu.Unlock()

			return
		}

		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		fn()
	}
}
