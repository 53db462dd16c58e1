package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/researchflow/internal/events"
	"github.com/aristath/researchflow/internal/scheduler"
)

// ExecuteFunc runs one task. A returned error, or a panic, is turned into a
// failure result for that task only.
type ExecuteFunc func(ctx context.Context, task *scheduler.Task) (scheduler.TaskResult, error)

// ParallelRunnerConfig configures the parallel runner.
type ParallelRunnerConfig struct {
	ConcurrencyLimit int                            // Max concurrent tasks (default 4)
	LockManager      *scheduler.ResourceLockManager // Optional; serialises tasks sharing WritesFiles
	Router           *scheduler.Router              // Optional; assigns agents to tasks without one
	Bus              *events.EventBus               // Optional; receives entry and progress events
}

// ParallelRunner executes a batch of dependency-linked tasks in waves with
// bounded concurrency.
type ParallelRunner struct {
	config ParallelRunnerConfig
}

// NewParallelRunner creates a new parallel runner.
func NewParallelRunner(cfg ParallelRunnerConfig) *ParallelRunner {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 4
	}
	if cfg.LockManager == nil {
		cfg.LockManager = scheduler.NewResourceLockManager()
	}
	return &ParallelRunner{config: cfg}
}

// Execute runs tasks through fn with at most maxWorkers concurrent calls and
// returns exactly one result per task.
func Execute(ctx context.Context, tasks []*scheduler.Task, fn ExecuteFunc, maxWorkers int) (map[string]scheduler.TaskResult, error) {
	return NewParallelRunner(ParallelRunnerConfig{ConcurrencyLimit: maxWorkers}).Run(ctx, tasks, fn)
}

// Run executes all tasks to a terminal status. Each wave dispatches every
// ready task; after a wave, dependents of failed tasks fail with
// MsgDependencyFailed. When nothing is ready but tasks remain pending, they
// fail with MsgDeadlocked. The input tasks are not mutated.
// An error is returned only for an invalid task list (empty or duplicate IDs).
func (r *ParallelRunner) Run(ctx context.Context, tasks []*scheduler.Task, fn ExecuteFunc) (map[string]scheduler.TaskResult, error) {
	dag, err := scheduler.NewDAGFrom(tasks)
	if err != nil {
		return nil, fmt.Errorf("invalid task list: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			r.publishFailed(dag, dag.FailPending(fmt.Sprintf("cancelled: %v", err)))
			break
		}

		r.publishFailed(dag, dag.FailBlocked(scheduler.MsgDependencyFailed))

		ready := dag.Eligible()
		if len(ready) == 0 {
			if failed := dag.FailPending(scheduler.MsgDeadlocked); len(failed) > 0 {
				log.Printf("WARNING: %d task(s) deadlocked on unresolvable dependencies", len(failed))
				r.publishFailed(dag, failed)
			}
			break
		}

		g := new(errgroup.Group)
		g.SetLimit(min(r.config.ConcurrencyLimit, len(ready)))
		for _, task := range ready {
			g.Go(func() error {
				r.executeTask(ctx, dag, task, fn)
				return nil
			})
		}
		_ = g.Wait()
		r.publishProgress(dag)
	}

	results := make(map[string]scheduler.TaskResult, len(tasks))
	for _, task := range dag.Tasks() {
		if task.Result != nil {
			results[task.ID] = *task.Result
		}
	}
	return results, nil
}

// executeTask runs one ready task and records its terminal result in dag.
func (r *ParallelRunner) executeTask(ctx context.Context, dag *scheduler.DAG, task *scheduler.Task, fn ExecuteFunc) {
	if err := dag.MarkRunning(task.ID); err != nil {
		log.Printf("ERROR: failed to mark task %q as running: %v", task.ID, err)
		return
	}
	task.Status = scheduler.StatusRunning

	if task.Agent == "" && r.config.Router != nil {
		task.Agent = r.config.Router.Route(task.Description)
	}

	r.config.LockManager.LockAll(task.WritesFiles)
	defer r.config.LockManager.UnlockAll(task.WritesFiles)

	r.publish(events.EntryStartedEvent{ID: task.ID, Agent: string(task.Agent), Timestamp: time.Now()})

	started := time.Now()
	res := normalizeResult(task, started, callSafely(ctx, task, fn))

	if err := dag.Finish(task.ID, res); err != nil {
		log.Printf("ERROR: failed to record result for task %q: %v", task.ID, err)
		return
	}
	r.publishResult(task.ID, res)
}

type callOutcome struct {
	res scheduler.TaskResult
	err error
}

// callSafely invokes fn, converting a panic into an error.
func callSafely(ctx context.Context, task *scheduler.Task, fn ExecuteFunc) (out callOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = callOutcome{err: fmt.Errorf("executor panic: %v", p)}
		}
	}()
	res, err := fn(ctx, task)
	return callOutcome{res: res, err: err}
}

// normalizeResult fills identity and timestamps, and maps errors and
// non-terminal statuses to failure.
func normalizeResult(task *scheduler.Task, started time.Time, out callOutcome) scheduler.TaskResult {
	res := out.res
	switch {
	case out.err != nil:
		res.Status = scheduler.StatusFailure
		res.Error = out.err.Error()
	case !res.Status.Terminal():
		res.Error = fmt.Sprintf("executor returned non-terminal status %q", res.Status)
		res.Status = scheduler.StatusFailure
	}

	if res.Agent == "" {
		res.Agent = task.Agent
	}
	if res.Task == "" {
		res.Task = task.Description
	}
	if res.Started.IsZero() {
		res.Started = started
	}
	if res.Ended.IsZero() {
		res.Ended = time.Now()
	}
	return res
}

func (r *ParallelRunner) publish(e events.Event) {
	if r.config.Bus != nil {
		r.config.Bus.Publish(events.TopicEntry, e)
	}
}

func (r *ParallelRunner) publishResult(id string, res scheduler.TaskResult) {
	if res.Status == scheduler.StatusSuccess {
		r.publish(events.EntryCompletedEvent{
			ID:         id,
			Agent:      string(res.Agent),
			Output:     res.Output,
			TokensUsed: res.TokensUsed,
			Duration:   res.Duration(),
			Timestamp:  time.Now(),
		})
		return
	}
	r.publish(events.EntryFailedEvent{
		ID:        id,
		Agent:     string(res.Agent),
		Status:    string(res.Status),
		Err:       res.Error,
		Duration:  res.Duration(),
		Timestamp: time.Now(),
	})
}

func (r *ParallelRunner) publishFailed(dag *scheduler.DAG, ids []string) {
	if r.config.Bus == nil {
		return
	}
	for _, id := range ids {
		if task, ok := dag.Get(id); ok && task.Result != nil {
			r.publishResult(id, *task.Result)
		}
	}
}

func (r *ParallelRunner) publishProgress(dag *scheduler.DAG) {
	if r.config.Bus == nil {
		return
	}
	counts := dag.Counts()
	r.config.Bus.Publish(events.TopicQueue, events.QueueProgressEvent{
		Queued:    counts[scheduler.StatusPending],
		Running:   counts[scheduler.StatusRunning],
		Completed: counts[scheduler.StatusSuccess],
		Failed:    counts[scheduler.StatusFailure] + counts[scheduler.StatusTimeout],
		Timestamp: time.Now(),
	})
}
