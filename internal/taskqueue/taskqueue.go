// Package taskqueue provides a serialized task loop: tasks posted from any
// goroutine run one at a time, in FIFO order, on a single dedicated
// goroutine. Code that only ever mutates shared state from inside tasks
// needs no further locking, and tasks posted during a task run strictly
// after every task already queued — which is what gives the fetcher its
// "next tick" coalescing point.
package taskqueue

import "sync"

type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
}

func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Post enqueues fn. Posting after Close is a no-op.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
}

// Barrier blocks until every task posted before it has run. It must not be
// called from inside a task.
func (q *Queue) Barrier() {
	done := make(chan struct{})
	q.Post(func() { close(done) })
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return
	}
	<-done
}

// Close stops the loop after the currently queued tasks drain.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Signal()
}

func (q *Queue) loop() {
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		fn()
	}
}
