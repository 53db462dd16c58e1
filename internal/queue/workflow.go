package queue

import (
	"fmt"

	"github.com/aristath/researchflow/internal/config"
	"github.com/aristath/researchflow/internal/scheduler"
)

// WorkflowSteps converts a configured workflow into its ordered agent roles.
func WorkflowSteps(wf config.WorkflowConfig) []scheduler.AgentRole {
	steps := make([]scheduler.AgentRole, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		steps = append(steps, scheduler.AgentRole(s.Agent))
	}
	return steps
}

// SubmitWorkflow submits one chained entry per step, each pinned to its
// step's agent. Every step after the first is told to build on the previous
// step's result, which reaches it through the shared-memory context. Priority
// and WithDependsOn apply as in SubmitBatch with chaining.
func (q *Queue) SubmitWorkflow(text string, steps []scheduler.AgentRole, opts ...SubmitOption) ([]string, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}

	o := applyOptions(opts)
	o.id = ""

	texts := make([]string, len(steps))
	plans := make([]submitOptions, len(steps))
	for i, role := range steps {
		texts[i] = workflowPrompt(text, steps, i)
		plans[i] = o
		plans[i].agent = role
	}
	return q.submitChain(texts, plans, true)
}

func workflowPrompt(text string, steps []scheduler.AgentRole, i int) string {
	if i == 0 {
		return text
	}
	return fmt.Sprintf("%s\n\nThis is step %d of %d. Build on the %s result for this request in Prior Context.",
		text, i+1, len(steps), steps[i-1])
}
