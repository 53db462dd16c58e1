package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalConfig    *OrchestratorConfig
		projectConfig   *OrchestratorConfig
		expectProviders int
		expectAgents    int
		expectWorkflows int
		checkAgent      string
		expectProvider  string
		expectModel     string
	}{
		{
			name:            "No config files - returns defaults",
			expectProviders: 2,
			expectAgents:    5,
			expectWorkflows: 2,
		},
		{
			name: "Global only - adds new agent",
			globalConfig: &OrchestratorConfig{
				Agents: map[string]AgentConfig{
					"statistician": {
						Provider:     "codex",
						SystemPrompt: "You run significance tests.",
					},
				},
			},
			expectProviders: 2,
			expectAgents:    6,
			expectWorkflows: 2,
			checkAgent:      "statistician",
			expectProvider:  "codex",
		},
		{
			name: "Project overrides global",
			globalConfig: &OrchestratorConfig{
				Agents: map[string]AgentConfig{
					"writer": {Provider: "claude", Model: "sonnet"},
				},
			},
			projectConfig: &OrchestratorConfig{
				Agents: map[string]AgentConfig{
					"writer": {Provider: "codex", Model: "o3"},
				},
			},
			expectProviders: 2,
			expectAgents:    5,
			expectWorkflows: 2,
			checkAgent:      "writer",
			expectProvider:  "codex",
			expectModel:     "o3",
		},
		{
			name: "Project adds provider and workflow",
			projectConfig: &OrchestratorConfig{
				Providers: map[string]ProviderConfig{
					"local": {Command: "claude", Type: "claude", Args: []string{"--verbose"}},
				},
				Workflows: map[string]WorkflowConfig{
					"survey": {Steps: []WorkflowStepConfig{{Agent: "researcher"}, {Agent: "writer"}}},
				},
			},
			expectProviders: 3,
			expectAgents:    5,
			expectWorkflows: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "global.json")
			projectPath := filepath.Join(dir, "project.json")
			if tt.globalConfig != nil {
				writeJSON(t, globalPath, tt.globalConfig)
			}
			if tt.projectConfig != nil {
				writeJSON(t, projectPath, tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}

			if len(cfg.Providers) != tt.expectProviders {
				t.Errorf("providers = %d, want %d", len(cfg.Providers), tt.expectProviders)
			}
			if len(cfg.Agents) != tt.expectAgents {
				t.Errorf("agents = %d, want %d", len(cfg.Agents), tt.expectAgents)
			}
			if len(cfg.Workflows) != tt.expectWorkflows {
				t.Errorf("workflows = %d, want %d", len(cfg.Workflows), tt.expectWorkflows)
			}
			if tt.checkAgent != "" {
				agent, ok := cfg.Agents[tt.checkAgent]
				if !ok {
					t.Fatalf("agent %q missing", tt.checkAgent)
				}
				if agent.Provider != tt.expectProvider {
					t.Errorf("agent %q provider = %q, want %q", tt.checkAgent, agent.Provider, tt.expectProvider)
				}
				if tt.expectModel != "" && agent.Model != tt.expectModel {
					t.Errorf("agent %q model = %q, want %q", tt.checkAgent, agent.Model, tt.expectModel)
				}
			}
		})
	}
}

func TestLoad_QueueMergesNonZeroFields(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "project.json")
	if err := os.WriteFile(projectPath, []byte(`{"queue":{"max_workers":8,"state_dir":"/tmp/rf"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", projectPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.Queue.MaxWorkers)
	}
	if cfg.Queue.StateDir != "/tmp/rf" {
		t.Errorf("StateDir = %q", cfg.Queue.StateDir)
	}
	if cfg.Queue.ContextWindow != 10 {
		t.Errorf("ContextWindow should keep default 10, got %d", cfg.Queue.ContextWindow)
	}
	if cfg.Queue.PollInterval() != 100*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Queue.PollInterval())
	}
	if cfg.Queue.AgentTimeout() != 10*time.Minute {
		t.Errorf("AgentTimeout = %v", cfg.Queue.AgentTimeout())
	}
}

func TestLoad_RoutingReplacedWholesale(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	projectPath := filepath.Join(dir, "project.json")
	writeJSON(t, globalPath, &OrchestratorConfig{Routing: []RouteConfig{
		{Agent: "writer", Keywords: []string{"draft"}},
		{Agent: "coder", Keywords: []string{"script"}},
	}})
	writeJSON(t, projectPath, &OrchestratorConfig{Routing: []RouteConfig{
		{Agent: "analyst", Keywords: []string{"plot"}},
	}})

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Routing) != 1 || cfg.Routing[0].Agent != "analyst" {
		t.Errorf("Routing = %+v, want project table only", cfg.Routing)
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("missing files should not error: %v", err)
	}
	if cfg.Queue.MaxWorkers != 4 {
		t.Errorf("expected default MaxWorkers 4, got %d", cfg.Queue.MaxWorkers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*OrchestratorConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*OrchestratorConfig) {},
		},
		{
			name: "unknown provider",
			mutate: func(c *OrchestratorConfig) {
				c.Agents["writer"] = AgentConfig{Provider: "goose"}
			},
			wantErr: "unknown provider",
		},
		{
			name: "workflow with unknown agent",
			mutate: func(c *OrchestratorConfig) {
				c.Workflows["bad"] = WorkflowConfig{Steps: []WorkflowStepConfig{{Agent: "ghost"}}}
			},
			wantErr: "unknown agent",
		},
		{
			name: "empty workflow",
			mutate: func(c *OrchestratorConfig) {
				c.Workflows["empty"] = WorkflowConfig{}
			},
			wantErr: "no steps",
		},
		{
			name: "routing with unknown agent",
			mutate: func(c *OrchestratorConfig) {
				c.Routing = []RouteConfig{{Agent: "ghost", Keywords: []string{"x"}}}
			},
			wantErr: "routing entry 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_YAMLFallback(t *testing.T) {
	dir := t.TempDir()
	yamlConfig := `
agents:
  writer:
    provider: codex
    model: gpt-5
    system_prompt: You write concise academic prose.
routing:
  - agent: writer
    keywords: [draft, latex]
queue:
  max_workers: 2
  state_dir: /tmp/rf-state
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	writer := cfg.Agents["writer"]
	if writer.Provider != "codex" || writer.Model != "gpt-5" || writer.SystemPrompt == "" {
		t.Errorf("writer agent not loaded from YAML: %+v", writer)
	}
	if _, ok := cfg.Agents["researcher"]; !ok {
		t.Error("default agents should survive a YAML merge")
	}
	if len(cfg.Routing) != 1 || cfg.Routing[0].Keywords[1] != "latex" {
		t.Errorf("routing = %+v", cfg.Routing)
	}
	if cfg.Queue.MaxWorkers != 2 || cfg.Queue.StateDir != "/tmp/rf-state" || cfg.Queue.ContextWindow != 10 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
}

func TestLoad_JSONPreferredOverYAML(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "config.json"), map[string]any{"queue": map[string]any{"max_workers": 7}})
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("queue:\n  max_workers: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxWorkers != 7 {
		t.Errorf("MaxWorkers = %d, want 7 from config.json", cfg.Queue.MaxWorkers)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("agents: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
