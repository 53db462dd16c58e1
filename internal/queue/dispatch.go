package queue

import (
	"fmt"
	"log"
	"time"

	"github.com/aristath/researchflow/internal/events"
	"github.com/aristath/researchflow/internal/memory"
	"github.com/aristath/researchflow/internal/scheduler"
)

// launch is an entry selected for execution together with its final prompt.
type launch struct {
	entry  Entry
	role   scheduler.AgentRole
	prompt string
}

func (q *Queue) ensureDispatcherLocked() {
	if q.dispatching || q.closed {
		return
	}
	q.dispatching = true
	q.loops.Add(1)
	go q.dispatchLoop()
}

// dispatchLoop is the single dispatcher goroutine. It exits, persisting
// state, once nothing is queued or running; the next Submit restarts it.
func (q *Queue) dispatchLoop() {
	defer q.loops.Done()

	for {
		q.mu.Lock()
		if q.closed {
			q.dispatching = false
			q.mu.Unlock()
			return
		}
		if len(q.queued) == 0 && len(q.running) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			q.persist()
			return
		}

		started, finished := q.tickLocked()
		if len(started) > 0 || len(finished) > 0 {
			q.notifyLocked()
		}
		progress := q.progressLocked()
		q.mu.Unlock()

		for _, l := range started {
			q.publish(events.TopicEntry, events.EntryStartedEvent{ID: l.entry.ID, Agent: string(l.role), Timestamp: time.Now()})
			go q.runEntry(l)
		}
		q.finalize(finished...)
		if len(started) > 0 || len(finished) > 0 {
			q.publish(events.TopicQueue, progress)
			continue
		}

		select {
		case <-q.wake:
		case <-q.stop:
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

// tickLocked runs one scheduling step:
//  1. with a free worker slot, dispatch the highest-priority eligible entry
//     (earliest submission wins ties);
//  2. otherwise fail every queued entry blocked by a dependency that did not
//     succeed, transitively.
//
// Entries whose dependencies are unknown or still pending stay queued; a
// dependency may be submitted later.
func (q *Queue) tickLocked() (started []launch, finished []Entry) {
	if len(q.running) >= q.cfg.MaxWorkers {
		return nil, nil
	}

	if idx := q.selectLocked(); idx >= 0 {
		return []launch{q.startLocked(idx)}, nil
	}

	return nil, q.failBlockedLocked()
}

// selectLocked returns the index of the entry to dispatch next, or -1.
func (q *Queue) selectLocked() int {
	best := -1
	for i, e := range q.queued {
		if !q.eligibleLocked(e) {
			continue
		}
		if best < 0 || e.Priority > q.queued[best].Priority {
			best = i
		}
	}
	return best
}

func (q *Queue) eligibleLocked(e *Entry) bool {
	for _, dep := range e.DependsOn {
		if q.outcomes[dep] != scheduler.StatusSuccess {
			return false
		}
	}
	return true
}

// startLocked moves queued[idx] to running, routing it and freezing its context.
func (q *Queue) startLocked(idx int) launch {
	e := q.queued[idx]
	q.queued = append(q.queued[:idx], q.queued[idx+1:]...)

	e.Status = scheduler.StatusRouting
	if e.Agent == "" {
		e.Agent = q.cfg.Router.Route(e.Text)
	}
	e.Status = scheduler.StatusRunning
	e.StartedAt = time.Now()
	e.ContextSnapshot = q.cfg.Memory.ContextFor(e.ID, q.cfg.ContextWindow)
	q.running[e.ID] = e

	q.workers.Add(1)
	return launch{
		entry:  e.clone(),
		role:   e.Agent,
		prompt: buildPrompt(e.ContextSnapshot, e.Text),
	}
}

// failBlockedLocked fails queued entries whose dependencies ended in a
// non-success status, repeating until no more entries are affected.
func (q *Queue) failBlockedLocked() []Entry {
	var failed []Entry
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(q.queued); i++ {
			dep, ok := q.deadDependencyLocked(q.queued[i])
			if !ok {
				continue
			}
			failed = append(failed, q.failQueuedLocked(i, fmt.Sprintf("%s: %s", scheduler.MsgDependencyFailed, dep)))
			i--
			changed = true
		}
	}
	return failed
}

func (q *Queue) deadDependencyLocked(e *Entry) (string, bool) {
	for _, dep := range e.DependsOn {
		if status, ok := q.outcomes[dep]; ok && status != scheduler.StatusSuccess {
			return dep, true
		}
	}
	return "", false
}

// failQueuedLocked moves queued[idx] straight to completed as a failure.
func (q *Queue) failQueuedLocked(idx int, msg string) Entry {
	e := q.queued[idx]
	q.queued = append(q.queued[:idx], q.queued[idx+1:]...)

	now := time.Now()
	e.Status = scheduler.StatusFailure
	e.Error = msg
	e.Result = &scheduler.TaskResult{
		Agent:  e.Agent,
		Task:   e.Text,
		Status: scheduler.StatusFailure,
		Error:  msg,
		Ended:  now,
	}
	e.CompletedAt = now
	q.remember(e)
	q.completeLocked(e)
	return e.clone()
}

// runEntry executes one entry on a worker goroutine.
func (q *Queue) runEntry(l launch) {
	defer q.workers.Done()

	res := q.execute(l)

	q.mu.Lock()
	e, ok := q.running[l.entry.ID]
	if !ok {
		q.mu.Unlock()
		log.Printf("ERROR: entry %s finished but is not running", l.entry.ID)
		return
	}
	delete(q.running, e.ID)
	if q.abandoned {
		// Saved as pending by Shutdown; rerun on Restore.
		e.Status = scheduler.StatusQueued
		e.StartedAt = time.Time{}
		e.ContextSnapshot = nil
		q.queued = append(q.queued, e)
		q.notifyLocked()
		q.mu.Unlock()
		return
	}
	e.Status = res.Status
	e.Error = res.Error
	e.Result = &res
	e.CompletedAt = res.Ended
	// Record before the outcome becomes visible so dependents see it in
	// their context.
	q.remember(e)
	q.completeLocked(e)
	snapshot := e.clone()
	progress := q.progressLocked()
	q.mu.Unlock()

	q.finalize(snapshot)
	q.publish(events.TopicQueue, progress)
	q.signal()
}

// execute calls the agent executor, treating errors and panics as failures.
func (q *Queue) execute(l launch) (res scheduler.TaskResult) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = scheduler.TaskResult{Status: scheduler.StatusFailure, Error: fmt.Sprintf("executor panic: %v", p)}
		}
		res.Agent = l.role
		res.Task = l.entry.Text
		if res.Started.IsZero() {
			res.Started = started
		}
		if res.Ended.IsZero() {
			res.Ended = time.Now()
		}
	}()

	res, err := q.exec.Execute(q.ctx, l.role, l.prompt)
	switch {
	case err != nil:
		res.Status = scheduler.StatusFailure
		res.Error = err.Error()
	case !res.Status.Terminal() || res.Status == scheduler.StatusCancelled:
		res.Error = fmt.Sprintf("executor returned status %q", res.Status)
		res.Status = scheduler.StatusFailure
	}
	return res
}

func (q *Queue) completeLocked(e *Entry) {
	q.completed = append(q.completed, e)
	q.outcomes[e.ID] = e.Status
	q.finalizing++
	q.notifyLocked()
}

// finalize runs the side effects of entries moved to completed by
// completeLocked. Drain does not return until every one has been finalized.
func (q *Queue) finalize(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		q.finalized(e)
	}
	q.mu.Lock()
	q.finalizing -= len(entries)
	q.notifyLocked()
	q.mu.Unlock()
}

// remember appends the entry's outcome to shared memory.
func (q *Queue) remember(e *Entry) {
	output := ""
	if e.Result != nil {
		output = e.Result.Output
	}
	if output == "" {
		output = e.Error
	}
	q.cfg.Memory.Record(e.ID, "result", fmt.Sprintf("[%s] %s -> %s: %s",
		e.Agent, truncate(e.Text, q.cfg.TextPreview), e.Status, truncate(output, q.cfg.OutputPreview)))
}

// finalized runs the best-effort side effects of a terminal entry. Called
// without the lock; nothing here can affect scheduling.
func (q *Queue) finalized(e Entry) {
	res := scheduler.TaskResult{Agent: e.Agent, Task: e.Text, Status: e.Status, Error: e.Error}
	if e.Result != nil {
		res = *e.Result
	}

	if q.cfg.History != nil {
		if err := q.cfg.History.SaveResult(q.ctx, e.ID, res); err != nil {
			log.Printf("WARNING: failed to save result for %s: %v", e.ID, err)
		}
	}
	if q.cfg.Sink != nil && e.Status == scheduler.StatusSuccess {
		learning := fmt.Sprintf("%s => %s", truncate(e.Text, q.cfg.TextPreview), truncate(res.Output, q.cfg.OutputPreview))
		if err := q.cfg.Sink.AppendLearning(q.ctx, string(e.Agent), learning); err != nil {
			log.Printf("WARNING: knowledge sink rejected learning for %s: %v", e.ID, err)
		}
	}

	switch e.Status {
	case scheduler.StatusSuccess:
		q.publish(events.TopicEntry, events.EntryCompletedEvent{
			ID:         e.ID,
			Agent:      string(e.Agent),
			Output:     res.Output,
			TokensUsed: res.TokensUsed,
			Duration:   res.Duration(),
			Timestamp:  time.Now(),
		})
	case scheduler.StatusCancelled:
		q.publish(events.TopicEntry, events.EntryCancelledEvent{ID: e.ID, Timestamp: time.Now()})
	default:
		q.publish(events.TopicEntry, events.EntryFailedEvent{
			ID:        e.ID,
			Agent:     string(e.Agent),
			Status:    string(e.Status),
			Err:       e.Error,
			Duration:  res.Duration(),
			Timestamp: time.Now(),
		})
	}

	q.callback(e)
}

func (q *Queue) callback(e Entry) {
	if q.cfg.OnComplete == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("ERROR: completion callback panicked for %s: %v", e.ID, p)
		}
	}()
	q.cfg.OnComplete(e)
}

func (q *Queue) progressLocked() events.QueueProgressEvent {
	ev := events.QueueProgressEvent{
		Queued:    len(q.queued),
		Running:   len(q.running),
		Timestamp: time.Now(),
	}
	for _, e := range q.completed {
		switch e.Status {
		case scheduler.StatusSuccess:
			ev.Completed++
		case scheduler.StatusFailure, scheduler.StatusTimeout:
			ev.Failed++
		}
	}
	return ev
}

// buildPrompt frames the task with its frozen context snapshot.
func buildPrompt(snapshot []memory.Entry, text string) string {
	if len(snapshot) == 0 {
		return text
	}
	return "## Prior Context\n" + memory.Render(snapshot) + "\n\n## Current Task\n" + text
}
