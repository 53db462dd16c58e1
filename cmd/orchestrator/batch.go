package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/researchflow/internal/memory"
	"github.com/aristath/researchflow/internal/orchestrator"
	"github.com/aristath/researchflow/internal/queue"
	"github.com/aristath/researchflow/internal/scheduler"
)

var batchCmd = &cobra.Command{
	Use:   "batch <plan-file>",
	Short: "Run a fixed task plan in dependency waves",
	Long: `Run a plan of tasks with explicit IDs and dependencies. The plan is
validated up front (unknown dependencies and cycles are rejected), then run
in waves: every task whose dependencies succeeded runs concurrently, and
dependents of failed tasks are failed without being run.

The plan file is YAML or JSON:

  tasks:
    - id: sources
      description: collect sources on sparse attention
    - id: related
      description: write the related work section
      agent: writer
      depends_on: [sources]
      writes_files: [paper/related.tex]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := loadPlan(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), appOptions{
			Workers: flagWorkers,
			NoState: true,
			Verbose: flagVerbose,
			Out:     os.Stdout,
		})
		if err != nil {
			return err
		}
		defer a.close()

		entries, err := a.runPlan(cmd.Context(), tasks)
		if err != nil {
			return err
		}
		return a.report(entries)
	},
}

// planFile is the on-disk task plan.
type planFile struct {
	Tasks []planTask `yaml:"tasks"`
}

type planTask struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Agent       string   `yaml:"agent"`
	DependsOn   []string `yaml:"depends_on"`
	WritesFiles []string `yaml:"writes_files"`
}

// loadPlan reads a plan and checks it forms a valid DAG.
func loadPlan(path string) ([]*scheduler.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}

	tasks := make([]*scheduler.Task, 0, len(plan.Tasks))
	for i, pt := range plan.Tasks {
		if pt.ID == "" || pt.Description == "" {
			return nil, fmt.Errorf("plan task %d needs an id and a description", i)
		}
		t := scheduler.NewTask(pt.ID, pt.Description, pt.DependsOn...)
		t.Agent = scheduler.AgentRole(pt.Agent)
		t.WritesFiles = pt.WritesFiles
		tasks = append(tasks, t)
	}

	dag, err := scheduler.NewDAGFrom(tasks)
	if err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if _, err := dag.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return tasks, nil
}

// runPlan runs tasks through the batch runner. Each prompt carries the
// outputs of the task's direct dependencies. Results are recorded in the
// knowledge store and returned as entries in plan order.
func (a *app) runPlan(ctx context.Context, tasks []*scheduler.Task) ([]queue.Entry, error) {
	for _, t := range tasks {
		if t.Agent != "" {
			if _, ok := a.cfg.Agents[string(t.Agent)]; !ok {
				return nil, fmt.Errorf("task %q uses unknown agent %q", t.ID, t.Agent)
			}
		}
	}

	var mu sync.Mutex
	outputs := make(map[string]string, len(tasks))

	fn := func(ctx context.Context, task *scheduler.Task) (scheduler.TaskResult, error) {
		mu.Lock()
		var deps []memory.Entry
		for _, dep := range task.DependsOn {
			deps = append(deps, memory.Entry{PromptID: dep, Key: dep, Value: outputs[dep]})
		}
		mu.Unlock()

		prompt := task.Description
		if len(deps) > 0 {
			prompt = "## Prior Context\n" + memory.Render(deps) + "\n\n## Current Task\n" + task.Description
		}
		res, err := a.exec.Execute(ctx, task.Agent, prompt)
		if err == nil && res.Status == scheduler.StatusSuccess {
			mu.Lock()
			outputs[task.ID] = res.Output
			mu.Unlock()
		}
		return res, err
	}

	runner := orchestrator.NewParallelRunner(orchestrator.ParallelRunnerConfig{
		ConcurrencyLimit: a.workers,
		Router:           buildRouter(a.cfg),
		Bus:              a.bus,
	})
	results, err := runner.Run(ctx, tasks, fn)
	if err != nil {
		return nil, err
	}

	entries := make([]queue.Entry, 0, len(tasks))
	for _, t := range tasks {
		res := results[t.ID]
		if err := a.store.SaveResult(ctx, t.ID, res); err != nil {
			log.Printf("WARNING: failed to save result for %s: %v", t.ID, err)
		}
		entries = append(entries, queue.Entry{
			ID:          t.ID,
			Text:        t.Description,
			Agent:       res.Agent,
			DependsOn:   t.DependsOn,
			Status:      res.Status,
			Error:       res.Error,
			Result:      &res,
			StartedAt:   res.Started,
			CompletedAt: res.Ended,
		})
	}
	return entries, nil
}
