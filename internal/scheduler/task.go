package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task or queue entry.
type Status string

const (
	StatusPending   Status = "pending"   // Waiting for dependencies (batch mode)
	StatusQueued    Status = "queued"    // Waiting in the dynamic queue
	StatusRouting   Status = "routing"   // Agent being assigned
	StatusRunning   Status = "running"   // Currently executing
	StatusSuccess   Status = "success"   // Finished successfully
	StatusFailure   Status = "failure"   // Finished with error
	StatusTimeout   Status = "timeout"   // Agent call exceeded its wall-clock bound
	StatusCancelled Status = "cancelled" // Removed from the queue before dispatch
)

// Markers carried in TaskResult.Error for scheduler-generated failures.
const (
	MsgDependencyFailed = "Dependency failed"
	MsgDeadlocked       = "Deadlocked: unresolvable dependency"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrResultAlreadySet  = errors.New("result already set")
)

// rank orders statuses so transitions can only move forward.
var rank = map[Status]int{
	StatusPending: 0,
	StatusQueued:  0,
	StatusRouting: 1,
	StatusRunning: 2,
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a forward move.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() || s == next {
		return false
	}
	if next.Terminal() {
		return true
	}
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	return ok && to > from
}

// AgentRole names a category of work routed to a specific persona.
type AgentRole string

const (
	RoleResearcher AgentRole = "researcher"
	RoleWriter     AgentRole = "writer"
	RoleAnalyst    AgentRole = "analyst"
	RoleReviewer   AgentRole = "reviewer"
	RoleCoder      AgentRole = "coder"
)

// TaskResult is the outcome of one agent execution.
type TaskResult struct {
	Agent      AgentRole `json:"agent"`
	Task       string    `json:"task"`
	Status     Status    `json:"status"`
	Output     string    `json:"output"`
	TokensUsed int       `json:"tokens_used"`
	Error      string    `json:"error,omitempty"`
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended"`
}

// Duration returns the wall-clock time the execution took.
func (r TaskResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Ended.IsZero() {
		return 0
	}
	return r.Ended.Sub(r.Started)
}

// Task represents a unit of work in a dependency graph.
type Task struct {
	ID          string    // Unique identifier
	Description string    // Free-text instruction
	Agent       AgentRole // Assigned lazily by the router when empty
	DependsOn   []string  // Task IDs that must succeed first
	WritesFiles []string  // Artefacts this task writes (for resource locking)
	Status      Status
	Result      *TaskResult // Attached once terminal
}

// NewTask creates a pending task.
func NewTask(id, description string, deps ...string) *Task {
	return &Task{
		ID:          id,
		Description: description,
		DependsOn:   deps,
		Status:      StatusPending,
	}
}

// Transition moves the task to next, refusing backwards or post-terminal moves.
func (t *Task) Transition(next Status) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: task %q %s -> %s", ErrInvalidTransition, t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// Finish attaches the result and moves the task to the result's terminal status.
func (t *Task) Finish(res TaskResult) error {
	if t.Result != nil {
		return fmt.Errorf("%w: task %q", ErrResultAlreadySet, t.ID)
	}
	if !res.Status.Terminal() {
		return fmt.Errorf("%w: task %q result status %s is not terminal", ErrInvalidTransition, t.ID, res.Status)
	}
	if err := t.Transition(res.Status); err != nil {
		return err
	}
	t.Result = &res
	return nil
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.WritesFiles != nil {
		cp.WritesFiles = append([]string(nil), task.WritesFiles...)
	}
	if task.Result != nil {
		r := *task.Result
		cp.Result = &r
	}
	return &cp
}

// AgentExecutor runs a prompt as the given role. Implementations must be
// safe for concurrent use. Internal failures should be reported through the
// returned status; a returned error is treated as a failure by callers.
type AgentExecutor interface {
	Execute(ctx context.Context, role AgentRole, prompt string) (TaskResult, error)
}
