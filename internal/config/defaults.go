package config

// DefaultConfig returns the built-in providers, research agents, workflows
// and queue settings.
func DefaultConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
			"codex": {
				Command: "codex",
				Type:    "codex",
			},
		},
		Agents: map[string]AgentConfig{
			"researcher": {
				Provider:     "claude",
				SystemPrompt: "You search the literature, collect sources, and summarise prior work with citations.",
			},
			"writer": {
				Provider:     "claude",
				SystemPrompt: "You draft and revise research papers and LaTeX sections.",
			},
			"analyst": {
				Provider:     "claude",
				SystemPrompt: "You design experiments, analyse data, and report statistics and figures.",
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You critically review drafts for correctness, clarity, and missing evidence.",
			},
			"coder": {
				Provider:     "claude",
				SystemPrompt: "You implement research code, scripts, and tests.",
			},
		},
		Workflows: map[string]WorkflowConfig{
			"paper": {
				Steps: []WorkflowStepConfig{
					{Agent: "researcher"},
					{Agent: "analyst"},
					{Agent: "writer"},
					{Agent: "reviewer"},
				},
			},
			"revise": {
				Steps: []WorkflowStepConfig{
					{Agent: "reviewer"},
					{Agent: "writer"},
				},
			},
		},
		Queue: QueueConfig{
			MaxWorkers:      4,
			PollIntervalMS:  100,
			ContextWindow:   10,
			AgentTimeoutSec: 600,
			MaxRetries:      2,
			StateDir:        ".researchflow/state",
			KnowledgeDB:     ".researchflow/knowledge.db",
		},
	}
}
