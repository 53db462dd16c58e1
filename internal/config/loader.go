package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
// A missing config.json falls back to config.yaml in the same directory.
// Missing files are not errors; malformed files return an error.
func Load(globalPath, projectPath string) (*OrchestratorConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPaths returns the conventional global and project config paths.
// Global: ~/.researchflow/config.json
// Project: .researchflow/config.json (relative to cwd)
func DefaultPaths() (globalPath, projectPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".researchflow", "config.json"), filepath.Join(".researchflow", "config.json"), nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*OrchestratorConfig, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, projectPath)
}

// Validate checks that every agent names a known provider and every
// workflow and routing entry names a known agent.
func (c *OrchestratorConfig) Validate() error {
	for name, agent := range c.Agents {
		if _, ok := c.Providers[agent.Provider]; !ok {
			return fmt.Errorf("agent %q uses unknown provider %q", name, agent.Provider)
		}
	}
	for name, wf := range c.Workflows {
		if len(wf.Steps) == 0 {
			return fmt.Errorf("workflow %q has no steps", name)
		}
		for i, step := range wf.Steps {
			if _, ok := c.Agents[step.Agent]; !ok {
				return fmt.Errorf("workflow %q step %d uses unknown agent %q", name, i, step.Agent)
			}
		}
	}
	for i, route := range c.Routing {
		if _, ok := c.Agents[route.Agent]; !ok {
			return fmt.Errorf("routing entry %d uses unknown agent %q", i, route.Agent)
		}
	}
	return nil
}

// mergeConfigFile reads a config file and merges it into the base config.
// Missing files are silently skipped. Malformed files return an error.
func mergeConfigFile(base *OrchestratorConfig, path string) error {
	path, ok := findConfigFile(path)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded OrchestratorConfig
	if isYAML(path) {
		err = yaml.Unmarshal(data, &loaded)
	} else {
		err = json.Unmarshal(data, &loaded)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}
	for key, workflow := range loaded.Workflows {
		base.Workflows[key] = workflow
	}

	// Routing is ordered, so a later file replaces the whole table.
	if len(loaded.Routing) > 0 {
		base.Routing = loaded.Routing
	}

	mergeQueue(&base.Queue, loaded.Queue)
	return nil
}

// mergeQueue copies the non-zero fields of src onto dst.
func mergeQueue(dst *QueueConfig, src QueueConfig) {
	if src.MaxWorkers > 0 {
		dst.MaxWorkers = src.MaxWorkers
	}
	if src.PollIntervalMS > 0 {
		dst.PollIntervalMS = src.PollIntervalMS
	}
	if src.ContextWindow > 0 {
		dst.ContextWindow = src.ContextWindow
	}
	if src.AgentTimeoutSec > 0 {
		dst.AgentTimeoutSec = src.AgentTimeoutSec
	}
	if src.MaxRetries > 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.StateDir != "" {
		dst.StateDir = src.StateDir
	}
	if src.KnowledgeDB != "" {
		dst.KnowledgeDB = src.KnowledgeDB
	}
}

// findConfigFile returns path if it exists, or a .yaml/.yml sibling of a
// missing .json path.
func findConfigFile(path string) (string, bool) {
	candidates := []string{path}
	if ext := filepath.Ext(path); ext == ".json" {
		base := strings.TrimSuffix(path, ext)
		candidates = append(candidates, base+".yaml", base+".yml")
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
