package backend

import (
	"context"
	"fmt"
)

// Backend is one agent CLI adapter. Each Send runs a fresh subprocess.
type Backend interface {
	// Send runs msg through the agent and returns its response.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases any resources held by the adapter.
	Close() error

	// SessionID returns the identifier of the agent conversation.
	SessionID() string
}

// New creates the adapter for cfg.Type.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeAdapter(cfg, pm)
	case "codex":
		return NewCodexAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
