// Package backlog implements the per-connection serialization primitive
// described for the receive path: a connection-scoped hold flag plus an
// append queue, so that a job submitted while another job for the same
// connection is running is deferred instead of blocking. The hold is taken
// only by Run itself; there is no separate hold/release API for user
// context.
package backlog

import "sync"

// Job is a deferred unit of work for one connection, queued while another
// job for that connection is running and drained once that job returns.
type Job func()

// Queue pairs a mutex with a FIFO of deferred jobs. held records whether a
// job is currently running; Run executes job now if none is, or appends it
// to drain later otherwise.
type Queue struct {
	mu      sync.Mutex
	held    bool
	pending []Job
}

// Run executes job immediately if no job is running, otherwise appends it
// to the backlog, which the Run call currently executing drains before it
// returns.
func (q *Queue) Run(job Job) {
	q.mu.Lock()
	if q.held {
		q.pending = append(q.pending, job)
		q.mu.Unlock()
		return
	}
	q.held = true
	q.mu.Unlock()

	q.runAndDrain(job)
}

// runAndDrain executes job, then keeps draining anything that queued up
// behind it while it ran, releasing the hold only once the backlog is
// empty.
func (q *Queue) runAndDrain(job Job) {
	for job != nil {
		job()

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.held = false
			q.mu.Unlock()
			return
		}
		job = q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}

// Len reports the number of jobs currently queued behind the holder.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
