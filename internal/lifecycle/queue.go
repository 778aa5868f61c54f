package lifecycle

import (
	"sync"
	"time"
)

// releaseResult is what a parked caller is resumed with: the handle to
// forward against, or a terminal error.
type releaseResult struct {
	handle *WorkerHandle
	err    error
}

// queueEntry is one parked request. It lives only between enqueue and
// release; ch is buffered so release never blocks on the caller.
type queueEntry struct {
	ch       chan releaseResult
	enqueued time.Time
	timer    *time.Timer
	done     bool // guarded by holdQueue.mu
}

// holdQueue is the per-model strict-FIFO queue of requests parked while no
// slot is active. Entries leave the queue only through releaseAll (FIFO
// replay on promotion), expiry, or caller cancellation; cancellation does
// not disturb the order of remaining entries.
type holdQueue struct {
	model    string
	maxDepth int
	maxWait  time.Duration

	// mu is a leaf lock, never held while calling into the controller
	// or router.
	mu      sync.Mutex
	entries []*queueEntry
}

func newHoldQueue(model string, maxDepth int, maxWait time.Duration) *holdQueue {
	return &holdQueue{model: model, maxDepth: maxDepth, maxWait: maxWait}
}

// enqueue parks a request. The caller blocks on the returned entry's ch.
// The expiry timer is cancelled the moment the entry is released, so no
// orphaned timers accumulate.
func (q *holdQueue) enqueue() (*queueEntry, error) {
	q.mu.Lock()
	if len(q.entries) >= q.maxDepth {
		q.mu.Unlock()
		return nil, ErrQueueFull(q.model)
	}
	e := &queueEntry{
		ch:       make(chan releaseResult, 1),
		enqueued: time.Now(),
	}
	e.timer = time.AfterFunc(q.maxWait, func() { q.expire(e) })
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	return e, nil
}

// releaseAll resumes every parked entry in arrival order against the newly
// active handle. Resolution order is strict FIFO; the resumed callers may
// then forward concurrently.
func (q *holdQueue) releaseAll(h *WorkerHandle) int {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	for _, e := range entries {
		e.done = true
		e.timer.Stop()
	}
	q.mu.Unlock()
	for _, e := range entries {
		e.ch <- releaseResult{handle: h}
	}
	return len(entries)
}

// expire removes a single entry whose hold duration elapsed and resumes
// its caller with a timeout failure.
func (q *holdQueue) expire(e *queueEntry) {
	q.mu.Lock()
	if e.done {
		q.mu.Unlock()
		return
	}
	e.done = true
	q.remove(e)
	q.mu.Unlock()
	e.ch <- releaseResult{err: ErrQueueTimeout(q.model)}
}

// cancel removes an entry whose caller went away (client disconnect).
// Reports false when the entry was already released or expired.
func (q *holdQueue) cancel(e *queueEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.done {
		return false
	}
	e.done = true
	e.timer.Stop()
	q.remove(e)
	return true
}

// remove deletes e from entries preserving the order of the rest.
// Callers hold q.mu.
func (q *holdQueue) remove(e *queueEntry) {
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *holdQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
