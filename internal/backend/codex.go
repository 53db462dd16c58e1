package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexAdapter runs prompts through `codex exec`.
type CodexAdapter struct {
	command   string
	extraArgs []string
	threadID  string
	workDir   string
	model     string
	system    string
	procMgr   *ProcessManager
}

// codexEvent covers the JSONL events emitted by `codex exec --json`
// that the adapter cares about.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// NewCodexAdapter creates a Codex adapter. procMgr may be nil.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) (*CodexAdapter, error) {
	return &CodexAdapter{
		command:   cfg.command(),
		extraArgs: cfg.Args,
		threadID:  cfg.SessionID,
		workDir:   cfg.WorkDir,
		model:     cfg.Model,
		system:    cfg.SystemPrompt,
		procMgr:   procMgr,
	}, nil
}

// Send runs one prompt and returns the final agent message.
func (c *CodexAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, c.command, c.buildArgs(msg)...)
	cmd.Dir = c.workDir

	stdout, _, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("codex command failed: %v", err)}, err
	}

	resp, err := parseCodexEvents(stdout)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to parse codex events: %v", err)}, err
	}
	if resp.SessionID != "" {
		c.threadID = resp.SessionID
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("codex reported error: %s", resp.Error)
	}
	return resp, nil
}

// buildArgs constructs: exec --json [--model m] [extra...] <prompt>.
// Codex has no system-prompt flag, so system text is prepended to the prompt.
func (c *CodexAdapter) buildArgs(msg Message) []string {
	args := []string{"exec", "--json"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, c.extraArgs...)

	prompt := msg.Content
	if c.system != "" {
		prompt = c.system + "\n\n" + prompt
	}
	return append(args, prompt)
}

// parseCodexEvents folds the JSONL event stream into a Response. The last
// agent_message item wins as content; usage is summed over turns.
func parseCodexEvents(data []byte) (Response, error) {
	var resp Response
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return Response{}, fmt.Errorf("failed to parse event: %w", err)
		}

		switch evt.Type {
		case "thread.started":
			resp.SessionID = evt.ThreadID
		case "item.completed":
			if evt.Item.Type == "agent_message" {
				resp.Content = evt.Item.Text
			}
		case "turn.completed":
			resp.TokensUsed += evt.Usage.InputTokens + evt.Usage.OutputTokens
		case "turn.failed":
			resp.Error = evt.Error.Message
		case "error":
			resp.Error = evt.Message
		}
	}

	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("error reading events: %w", err)
	}
	return resp, nil
}

// Close is a no-op: every Send is its own subprocess.
func (c *CodexAdapter) Close() error {
	return nil
}

// SessionID returns the last thread ID reported by the CLI.
func (c *CodexAdapter) SessionID() string {
	return c.threadID
}
