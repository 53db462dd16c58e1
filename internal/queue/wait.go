package queue

import (
	"context"
	"iter"
)

// idleLocked reports whether no further completions can happen without new
// submissions and every completion has been finalized. After Shutdown,
// queued entries no longer count.
func (q *Queue) idleLocked() bool {
	return len(q.running) == 0 && q.finalizing == 0 && (len(q.queued) == 0 || q.closed)
}

// Drain blocks the caller until nothing is queued or running, or ctx is
// done, and returns copies of all entries completed so far. It never
// blocks the dispatcher.
func (q *Queue) Drain(ctx context.Context) []Entry {
	for {
		q.mu.Lock()
		if q.idleLocked() {
			out := q.completedLocked()
			q.mu.Unlock()
			return out
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			q.mu.Lock()
			out := q.completedLocked()
			q.mu.Unlock()
			return out
		}
	}
}

// Completed returns a sequence of completed entries in completion order,
// starting from the first completion. Each entry is yielded once. The
// sequence ends when the queue is idle at observation time, or when ctx is done.
func (q *Queue) Completed(ctx context.Context) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		next := 0
		for {
			q.mu.Lock()
			if next < len(q.completed) {
				e := q.completed[next].clone()
				next++
				q.mu.Unlock()
				if !yield(e) {
					return
				}
				continue
			}
			if q.idleLocked() {
				q.mu.Unlock()
				return
			}
			changed := q.changed
			q.mu.Unlock()

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (q *Queue) completedLocked() []Entry {
	out := make([]Entry, len(q.completed))
	for i, e := range q.completed {
		out[i] = e.clone()
	}
	return out
}
