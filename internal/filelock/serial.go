package filelock

import "sync"

// SerialQueue runs submitted functions one at a time in submission order.
// The activity journal and lease file use one queue per workspace so
// concurrent appends and heartbeats never race on the same file.
type SerialQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	active bool
}

// NewSerialQueue creates a queue and starts its worker.
func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *SerialQueue) run() {
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue = q.queue[1:]
		q.active = true
		q.mu.Unlock()

		fn()

		q.mu.Lock()
		q.active = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// Submit enqueues fn and reports whether it was accepted. Calls on a closed
// queue are dropped.
func (q *SerialQueue) Submit(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.queue = append(q.queue, fn)
	q.cond.Broadcast()
	return true
}

// Do enqueues fn and blocks until it has run, returning its error.
func (q *SerialQueue) Do(fn func() error) error {
	done := make(chan error, 1)
	if !q.Submit(func() { done <- fn() }) {
		return nil
	}
	return <-done
}

// Close drains pending work and stops the worker. Blocks until the queue is
// empty and idle.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	for len(q.queue) > 0 || q.active {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
