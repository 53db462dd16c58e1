package config

import "time"

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command string   `json:"command" yaml:"command"`               // CLI binary name (e.g., "claude", "codex")
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"` // Default args appended to every invocation
	Type    string   `json:"type" yaml:"type"`                     // Backend type matching backend.Config.Type
}

// AgentConfig defines a role that uses a specific provider and model.
type AgentConfig struct {
	Provider     string `json:"provider" yaml:"provider"`                               // Key into Providers map
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`                 // Model override
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Role persona
}

// WorkflowStepConfig defines one step in a workflow pipeline.
type WorkflowStepConfig struct {
	Agent string `json:"agent" yaml:"agent"` // Key into Agents map
}

// WorkflowConfig defines a pipeline of agent steps (e.g., research -> write -> review).
type WorkflowConfig struct {
	Steps []WorkflowStepConfig `json:"steps" yaml:"steps"`
}

// RouteConfig maps an agent to its trigger keywords. Routing is a list,
// not a map, so tie-breaking follows file order.
type RouteConfig struct {
	Agent    string   `json:"agent" yaml:"agent"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// QueueConfig tunes the prompt queue.
type QueueConfig struct {
	MaxWorkers      int    `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	PollIntervalMS  int    `json:"poll_interval_ms,omitempty" yaml:"poll_interval_ms,omitempty"`
	ContextWindow   int    `json:"context_window,omitempty" yaml:"context_window,omitempty"`       // Shared-memory entries injected per prompt
	AgentTimeoutSec int    `json:"agent_timeout_sec,omitempty" yaml:"agent_timeout_sec,omitempty"` // Wall-clock bound per agent call
	MaxRetries      int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`             // Retries per agent call (0 = no retry)
	StateDir        string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`                 // memory.json + queue.json
	KnowledgeDB     string `json:"knowledge_db,omitempty" yaml:"knowledge_db,omitempty"`           // SQLite file for learnings and history
}

// PollInterval returns the dispatcher idle tick.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMS) * time.Millisecond
}

// AgentTimeout returns the per-call wall-clock bound.
func (q QueueConfig) AgentTimeout() time.Duration {
	return time.Duration(q.AgentTimeoutSec) * time.Second
}

// OrchestratorConfig is the top-level configuration.
type OrchestratorConfig struct {
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Agents    map[string]AgentConfig    `json:"agents" yaml:"agents"`
	Workflows map[string]WorkflowConfig `json:"workflows" yaml:"workflows"`
	Routing   []RouteConfig             `json:"routing,omitempty" yaml:"routing,omitempty"`
	Queue     QueueConfig               `json:"queue" yaml:"queue"`
}
