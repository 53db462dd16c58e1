package backend

import (
	"slices"
	"testing"
)

func TestCodexAdapter_BuildArgs(t *testing.T) {
	adapter, _ := NewCodexAdapter(Config{Type: "codex"}, nil)
	got := adapter.buildArgs(Message{Content: "plot results"})
	want := []string{"exec", "--json", "plot results"}
	if !slices.Equal(got, want) {
		t.Errorf("buildArgs() = %v, want %v", got, want)
	}

	adapter, _ = NewCodexAdapter(Config{Type: "codex", Model: "gpt-5", SystemPrompt: "You analyse data.", Args: []string{"--full-auto"}}, nil)
	got = adapter.buildArgs(Message{Content: "plot results"})
	want = []string{"exec", "--json", "--model", "gpt-5", "--full-auto", "You analyse data.\n\nplot results"}
	if !slices.Equal(got, want) {
		t.Errorf("buildArgs() = %v, want %v", got, want)
	}
}

func TestParseCodexEvents(t *testing.T) {
	stream := `{"type":"thread.started","thread_id":"th-1"}
{"type":"turn.started"}
{"type":"item.completed","item":{"type":"reasoning","text":"thinking"}}
{"type":"item.completed","item":{"type":"agent_message","text":"draft"}}
{"type":"item.completed","item":{"type":"agent_message","text":"final answer"}}
{"type":"turn.completed","usage":{"input_tokens":20,"output_tokens":5}}
`
	resp, err := parseCodexEvents([]byte(stream))
	if err != nil {
		t.Fatalf("parseCodexEvents: %v", err)
	}
	if resp.SessionID != "th-1" {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
	if resp.Content != "final answer" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensUsed != 25 {
		t.Errorf("TokensUsed = %d", resp.TokensUsed)
	}
}

func TestParseCodexEvents_Failure(t *testing.T) {
	resp, err := parseCodexEvents([]byte(`{"type":"turn.failed","error":{"message":"rate limited"}}`))
	if err != nil {
		t.Fatalf("parseCodexEvents: %v", err)
	}
	if resp.Error != "rate limited" {
		t.Errorf("Error = %q", resp.Error)
	}
}

func TestParseCodexEvents_EmptyAndMalformed(t *testing.T) {
	resp, err := parseCodexEvents(nil)
	if err != nil || resp.Content != "" {
		t.Errorf("empty stream: resp=%+v err=%v", resp, err)
	}
	if _, err := parseCodexEvents([]byte("{broken")); err == nil {
		t.Error("expected error for malformed line")
	}
}
