package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ClaudeAdapter runs prompts through the Claude Code CLI in print mode.
type ClaudeAdapter struct {
	command      string
	extraArgs    []string
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	procMgr      *ProcessManager
}

// claudeResponse is the result document printed by `claude -p --output-format json`.
type claudeResponse struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeAdapter creates a Claude Code adapter. A session ID is generated
// when cfg.SessionID is empty. procMgr may be nil.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &ClaudeAdapter{
		command:      cfg.command(),
		extraArgs:    cfg.Args,
		sessionID:    sessionID,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Send runs one prompt and returns the parsed result.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(msg)...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("claude command failed: %v", err)}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(stderr)),
		}, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("claude reported error: %s", resp.Error)
	}
	return resp, nil
}

// Close is a no-op: every Send is its own subprocess.
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the session identifier passed to the CLI.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

// buildArgs constructs the claude CLI arguments for one prompt.
func (a *ClaudeAdapter) buildArgs(msg Message) []string {
	args := []string{"-p", msg.Content, "--output-format", "json", "--session-id", a.sessionID}

	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	if a.systemPrompt != "" {
		args = append(args, "--append-system-prompt", a.systemPrompt)
	}

	return append(args, a.extraArgs...)
}

// parseClaudeResponse decodes the CLI's JSON result document.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	resp := Response{
		Content:    cr.Result,
		SessionID:  cr.SessionID,
		TokensUsed: cr.Usage.InputTokens + cr.Usage.OutputTokens,
	}
	if cr.IsError {
		resp.Error = cr.Subtype
		if resp.Error == "" {
			resp.Error = "error"
		}
		if cr.Result != "" {
			resp.Error += ": " + cr.Result
		}
	}
	return resp, nil
}
