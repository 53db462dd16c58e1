package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// BuildDAG returns the dependents adjacency of tasks: for every dependency
// edge the map holds depID -> [ids of tasks that depend on it].
// Dependency ids that name no task in the list still get an entry.
func BuildDAG(tasks []*Task) map[string][]string {
	adj := make(map[string][]string)
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			adj[depID] = append(adj[depID], task.ID)
		}
	}
	return adj
}

// DAG represents a directed graph of tasks and tracks their execution state.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // Insertion order, for deterministic iteration
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// NewDAGFrom builds a DAG from clones of tasks. Returns error on duplicate IDs.
func NewDAGFrom(tasks []*Task) (*DAG, error) {
	d := NewDAG()
	for _, t := range tasks {
		cp := cloneTask(t)
		if cp.Status == "" {
			cp.Status = StatusPending
		}
		if err := d.AddTask(cp); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddTask adds a task to the DAG. Returns error if task ID already exists.
func (d *DAG) AddTask(task *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task has empty ID")
	}
	if _, exists := d.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	d.tasks[task.ID] = task
	d.order = append(d.order, task.ID)

	for _, depID := range task.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], task.ID)
	}

	return nil
}

// Validate runs a topological sort using gammazero/toposort.
// Returns ordered task IDs, or an error if a dependency is missing or a cycle exists.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, taskID := range d.order {
		for _, depID := range d.tasks[taskID].DependsOn {
			if _, exists := d.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, taskID := range d.order {
		task := d.tasks[taskID]
		if len(task.DependsOn) == 0 {
			// nil source keeps isolated tasks in the output
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("DAG contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, taskID := range d.order {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Eligible returns clones of pending tasks whose dependencies have all succeeded,
// in insertion order.
func (d *DAG) Eligible() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	eligible := []*Task{}
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status != StatusPending {
			continue
		}
		if d.depsSucceededLocked(task) {
			eligible = append(eligible, cloneTask(task))
		}
	}
	return eligible
}

func (d *DAG) depsSucceededLocked(task *Task) bool {
	for _, depID := range task.DependsOn {
		dep, exists := d.tasks[depID]
		if !exists || dep.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// FailBlocked fails every pending task that (transitively) depends on a task
// that ended in any non-success terminal status. Returns the failed IDs.
func (d *DAG) FailBlocked(reason string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var failed []string
	for changed := true; changed; {
		changed = false
		for _, id := range d.order {
			task := d.tasks[id]
			if task.Status != StatusPending {
				continue
			}
			for _, depID := range task.DependsOn {
				dep, exists := d.tasks[depID]
				if exists && dep.Status.Terminal() && dep.Status != StatusSuccess {
					_ = task.Finish(TaskResult{
						Agent:  task.Agent,
						Task:   task.Description,
						Status: StatusFailure,
						Error:  fmt.Sprintf("%s: %s", reason, depID),
					})
					failed = append(failed, id)
					changed = true
					break
				}
			}
		}
	}
	return failed
}

// FailPending fails every task still pending with the given message.
func (d *DAG) FailPending(msg string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var failed []string
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status != StatusPending {
			continue
		}
		_ = task.Finish(TaskResult{
			Agent:  task.Agent,
			Task:   task.Description,
			Status: StatusFailure,
			Error:  msg,
		})
		failed = append(failed, id)
	}
	return failed
}

// MarkRunning moves a pending task to running.
func (d *DAG) MarkRunning(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	return task.Transition(StatusRunning)
}

// Finish records a terminal result for a task.
func (d *DAG) Finish(taskID string, res TaskResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	return task.Finish(res)
}

// Counts returns the number of tasks per status.
func (d *DAG) Counts() map[Status]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[Status]int)
	for _, task := range d.tasks {
		counts[task.Status]++
	}
	return counts
}

// Dependents returns the IDs of tasks that declare taskID as a dependency.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	deps := append([]string(nil), d.dependents[taskID]...)
	sort.Strings(deps)
	return deps
}

// Get returns a clone of the task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns clones of all tasks in insertion order.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, cloneTask(d.tasks[id]))
	}
	return tasks
}
