package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/researchflow/internal/queue"
	"github.com/aristath/researchflow/internal/scheduler"
)

var (
	runWorkflow  string
	runChain     bool
	runPriority  int
	runAgent     string
	runDependsOn []string
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>...",
	Short: "Queue prompts and wait for them to finish",
	Long: `Queue one or more prompts, run them through the configured agents and
print every result once the queue is drained. The saved queue state is
replaced by this run's; resume an interrupted run before starting a new one.

Examples:
  researchflow run "survey recent work on sparse attention"
  researchflow run --chain "collect benchmark numbers" "write the results section"
  researchflow run --workflow paper "a short paper on retrieval-augmented generation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{
			Workers:  flagWorkers,
			StateDir: flagStateDir,
			Verbose:  flagVerbose,
			Out:      os.Stdout,
		})
		if err != nil {
			return err
		}
		defer a.close()

		entries, err := a.run(cmd.Context(), runRequest{
			Prompts:   args,
			Workflow:  runWorkflow,
			Chain:     runChain,
			Priority:  runPriority,
			Agent:     runAgent,
			DependsOn: runDependsOn,
		})
		if err != nil {
			return err
		}
		return a.report(entries)
	},
}

func init() {
	runCmd.Flags().StringVar(&runWorkflow, "workflow", "", "Run each prompt through a named workflow from the config")
	runCmd.Flags().BoolVar(&runChain, "chain", false, "Make each prompt depend on the previous one")
	runCmd.Flags().IntVarP(&runPriority, "priority", "p", 0, "Priority for the submitted prompts (higher runs first)")
	runCmd.Flags().StringVarP(&runAgent, "agent", "a", "", "Pin prompts to an agent instead of routing by keywords")
	runCmd.Flags().StringSliceVar(&runDependsOn, "depends-on", nil, "Entry IDs from an earlier session that must have succeeded")
}

// runRequest describes one invocation of the run command.
type runRequest struct {
	Prompts   []string
	Workflow  string
	Chain     bool
	Priority  int
	Agent     string
	DependsOn []string
}

// run submits the request and waits for the queue to drain.
func (a *app) run(ctx context.Context, req runRequest) ([]queue.Entry, error) {
	if err := a.submit(ctx, req); err != nil {
		return nil, err
	}
	return a.wait(ctx), nil
}

func (a *app) submit(ctx context.Context, req runRequest) error {
	if err := a.checkDependencies(ctx, req.DependsOn); err != nil {
		return err
	}
	opts := []queue.SubmitOption{queue.WithPriority(req.Priority)}

	if req.Workflow != "" {
		wf, ok := a.cfg.Workflows[req.Workflow]
		if !ok {
			return fmt.Errorf("unknown workflow %q", req.Workflow)
		}
		steps := queue.WorkflowSteps(wf)
		for _, prompt := range req.Prompts {
			if _, err := a.queue.SubmitWorkflow(prompt, steps, opts...); err != nil {
				return fmt.Errorf("submit workflow %q: %w", req.Workflow, err)
			}
		}
		return nil
	}

	if req.Agent != "" {
		if _, ok := a.cfg.Agents[req.Agent]; !ok {
			return fmt.Errorf("unknown agent %q", req.Agent)
		}
		opts = append(opts, queue.WithAgent(scheduler.AgentRole(req.Agent)))
	}
	if _, err := a.queue.SubmitBatch(req.Prompts, req.Chain, opts...); err != nil {
		return fmt.Errorf("submit prompts: %w", err)
	}
	return nil
}

// checkDependencies requires every --depends-on entry to have succeeded in
// an earlier session. The queue keeps an entry waiting on an unknown ID, so
// an ID the history cannot resolve would never let the run finish.
func (a *app) checkDependencies(ctx context.Context, ids []string) error {
	for _, id := range ids {
		rec, err := a.store.GetResult(ctx, id)
		if err != nil {
			return fmt.Errorf("look up dependency %s: %w", id, err)
		}
		if rec == nil {
			return fmt.Errorf("unknown dependency %q: no recorded result", id)
		}
		if rec.Status != scheduler.StatusSuccess {
			return fmt.Errorf("%s: %s (%s)", scheduler.MsgDependencyFailed, id, rec.Status)
		}
	}
	return nil
}
