// Package worker runs jobs one at a time on a dedicated goroutine.
package worker

import (
	"sync"
)

type Job func()

// Executor is a single-worker FIFO queue. Enqueue never blocks the caller;
// jobs run strictly in submission order on the executor's own goroutine.
//
// Close drains: every job accepted before Close runs before Close returns.
// Jobs submitted after Close are rejected.
type Executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Job
	closed bool
	done   chan struct{}
}

func NewExecutor() *Executor {
	e := &Executor{
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.run()

	return e
}

// Enqueue schedules job and reports whether it was accepted.
func (e *Executor) Enqueue(job Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}

	e.queue = append(e.queue, job)
	e.cond.Signal()

	return true
}

// Len returns the number of jobs waiting to run.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Flush blocks until every job enqueued before the call has run.
func (e *Executor) Flush() {
	ch := make(chan struct{})
	if !e.Enqueue(func() { close(ch) }) {
		<-e.done
		return
	}
	<-ch
}

func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Signal()
	}
	e.mu.Unlock()

	<-e.done
}

func (e *Executor) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		job()
	}
}
