package queue

import "github.com/aristath/researchflow/internal/scheduler"

type submitOptions struct {
	id        string
	agent     scheduler.AgentRole
	priority  int
	dependsOn []string
}

// SubmitOption customises a submitted entry.
type SubmitOption func(*submitOptions)

// WithAgent pins the entry to role, bypassing the router.
func WithAgent(role scheduler.AgentRole) SubmitOption {
	return func(o *submitOptions) { o.agent = role }
}

// WithPriority sets the dispatch priority. Higher runs first among eligible entries.
func WithPriority(p int) SubmitOption {
	return func(o *submitOptions) { o.priority = p }
}

// WithDependsOn makes the entry wait until every listed entry has succeeded.
// In SubmitBatch and SubmitWorkflow with chaining, only the first entry gets these.
func WithDependsOn(ids ...string) SubmitOption {
	return func(o *submitOptions) { o.dependsOn = append(o.dependsOn, ids...) }
}

// WithID sets the entry ID instead of generating one. Ignored by SubmitBatch
// and SubmitWorkflow.
func WithID(id string) SubmitOption {
	return func(o *submitOptions) { o.id = id }
}

func applyOptions(opts []SubmitOption) submitOptions {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
