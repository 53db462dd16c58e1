package config

import (
	"encoding/json"
	"fmt"

	"github.com/aristath/researchflow/internal/fsutil"
)

// Save persists the configuration to a JSON file.
// Creates parent directories if they don't exist; the file is replaced atomically.
func Save(cfg *OrchestratorConfig, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
