package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/researchflow/internal/backend"
	"github.com/aristath/researchflow/internal/config"
	"github.com/aristath/researchflow/internal/scheduler"
)

// BackendFactory creates the backend used for one agent call.
type BackendFactory func(role scheduler.AgentRole, cfg backend.Config) (backend.Backend, error)

// BackendExecutorConfig configures a BackendExecutor.
type BackendExecutorConfig struct {
	Config         *config.OrchestratorConfig // Providers and agents (default: config.DefaultConfig())
	ProcessManager *backend.ProcessManager    // Tracks CLI subprocesses
	WorkDir        string                     // Working directory for agent CLIs
	Timeout        time.Duration              // Per-call wall-clock bound (0 = none)
	Retry          RetryConfig                // default: DefaultRetryConfig()
	Breakers       *CircuitBreakerRegistry    // Shared per-provider breakers (default: new registry)
	Factory        BackendFactory             // Optional factory for testing (overrides backend.New)
}

// BackendExecutor implements scheduler.AgentExecutor over the agent CLIs.
// Every call returns a result value; errors never escape Execute.
type BackendExecutor struct {
	cfg BackendExecutorConfig
}

var _ scheduler.AgentExecutor = (*BackendExecutor)(nil)

// NewBackendExecutor creates a BackendExecutor.
func NewBackendExecutor(cfg BackendExecutorConfig) *BackendExecutor {
	if cfg.Config == nil {
		cfg.Config = config.DefaultConfig()
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewCircuitBreakerRegistry()
	}
	if cfg.Factory == nil {
		pm := cfg.ProcessManager
		cfg.Factory = func(_ scheduler.AgentRole, bc backend.Config) (backend.Backend, error) {
			return backend.New(bc, pm)
		}
	}
	return &BackendExecutor{cfg: cfg}
}

// Execute sends prompt to the agent configured for role. A call that
// exceeds Timeout ends in StatusTimeout; any other error ends in StatusFailure.
func (e *BackendExecutor) Execute(ctx context.Context, role scheduler.AgentRole, prompt string) (scheduler.TaskResult, error) {
	res := scheduler.TaskResult{
		Agent:   role,
		Task:    prompt,
		Started: time.Now(),
	}
	finish := func(status scheduler.Status, errText string) (scheduler.TaskResult, error) {
		res.Status = status
		res.Error = errText
		res.Ended = time.Now()
		return res, nil
	}

	providerName, bc, err := e.backendConfig(role)
	if err != nil {
		return finish(scheduler.StatusFailure, err.Error())
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	defer cancel()

	b, err := e.cfg.Factory(role, bc)
	if err != nil {
		return finish(scheduler.StatusFailure, fmt.Sprintf("failed to create backend: %v", err))
	}
	defer b.Close()

	resp, err := sendWithRetry(callCtx, b, backend.Message{Content: prompt, Role: "user"}, e.cfg.Breakers.Get(providerName), e.cfg.Retry)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return finish(scheduler.StatusTimeout, fmt.Sprintf("agent %s timed out after %s", role, e.cfg.Timeout))
		}
		return finish(scheduler.StatusFailure, err.Error())
	}

	res.Output = resp.Content
	res.TokensUsed = resp.TokensUsed
	if res.TokensUsed == 0 {
		res.TokensUsed = estimateTokens(prompt, resp.Content)
	}
	return finish(scheduler.StatusSuccess, "")
}

// backendConfig resolves role -> agent -> provider into a backend.Config.
func (e *BackendExecutor) backendConfig(role scheduler.AgentRole) (string, backend.Config, error) {
	agent, ok := e.cfg.Config.Agents[string(role)]
	if !ok {
		return "", backend.Config{}, fmt.Errorf("no agent configured for role %q", role)
	}
	provider, ok := e.cfg.Config.Providers[agent.Provider]
	if !ok {
		return "", backend.Config{}, fmt.Errorf("agent %q uses unknown provider %q", role, agent.Provider)
	}

	return agent.Provider, backend.Config{
		Type:         provider.Type,
		Command:      provider.Command,
		Args:         provider.Args,
		WorkDir:      e.cfg.WorkDir,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
	}, nil
}

// estimateTokens approximates usage at four characters per token when the
// CLI reports none.
func estimateTokens(prompt, output string) int {
	return (len(prompt) + len(output)) / 4
}
