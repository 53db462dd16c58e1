package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/researchflow/internal/fsutil"
	"github.com/aristath/researchflow/internal/scheduler"
)

const (
	memoryFile = "memory.json"
	queueFile  = "queue.json"
)

// queueState is the on-disk queue snapshot. Pending holds entries that were
// queued or running when it was taken; Outcomes holds the terminal status of
// every entry known so far, so restored entries can resolve dependencies on
// work finished in an earlier session.
type queueState struct {
	SavedAt   time.Time                   `json:"saved_at"`
	Pending   []Entry                     `json:"pending"`
	Completed []Entry                     `json:"completed"`
	Outcomes  map[string]scheduler.Status `json:"outcomes"`
}

// persist writes memory.json and queue.json. Failures are logged, never returned.
func (q *Queue) persist() {
	if q.cfg.StateDir == "" {
		return
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	if err := q.cfg.Memory.Save(filepath.Join(q.cfg.StateDir, memoryFile)); err != nil {
		log.Printf("WARNING: failed to persist shared memory: %v", err)
	}

	q.mu.Lock()
	state := queueState{
		SavedAt:   time.Now(),
		Pending:   make([]Entry, 0, len(q.queued)+len(q.running)),
		Completed: q.completedLocked(),
		Outcomes:  make(map[string]scheduler.Status, len(q.outcomes)),
	}
	for _, e := range q.runningInOrderLocked() {
		state.Pending = append(state.Pending, e.clone())
	}
	for _, e := range q.queued {
		state.Pending = append(state.Pending, e.clone())
	}
	for id, status := range q.outcomes {
		state.Outcomes[id] = status
	}
	q.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Printf("WARNING: failed to encode queue state: %v", err)
		return
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(q.cfg.StateDir, queueFile), data); err != nil {
		log.Printf("WARNING: failed to persist queue state: %v", err)
	}
}

// Restore reloads shared memory and re-queues entries that were pending in
// the saved snapshot. Completed history is not replayed; it only resolves
// dependencies. Entries whose ID is already known are skipped. Missing
// state files are not an error. Returns the number of entries re-queued.
func (q *Queue) Restore() (int, error) {
	if q.cfg.StateDir == "" {
		return 0, nil
	}

	if err := q.cfg.Memory.Load(filepath.Join(q.cfg.StateDir, memoryFile)); err != nil {
		return 0, fmt.Errorf("restore memory: %w", err)
	}

	path := filepath.Join(q.cfg.StateDir, queueFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	var state queueState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}

	for id, status := range state.Outcomes {
		if _, ok := q.outcomes[id]; !ok {
			q.outcomes[id] = status
		}
	}
	for _, e := range state.Completed {
		if _, ok := q.outcomes[e.ID]; !ok {
			q.outcomes[e.ID] = e.Status
		}
	}

	restored := 0
	for i := range state.Pending {
		e := state.Pending[i]
		if e.ID == "" || q.knownLocked(e.ID) {
			continue
		}
		e.Status = scheduler.StatusQueued
		e.Error = ""
		e.Result = nil
		e.ContextSnapshot = nil
		e.StartedAt = time.Time{}
		e.CompletedAt = time.Time{}
		q.queued = append(q.queued, &e)
		restored++
	}
	if restored > 0 {
		q.ensureDispatcherLocked()
		q.notifyLocked()
	}
	q.mu.Unlock()

	q.signal()
	return restored, nil
}
