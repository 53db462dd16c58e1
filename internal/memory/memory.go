// Package memory holds the shared, append-only context log that carries
// outcomes of completed prompts into later ones.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aristath/researchflow/internal/fsutil"
)

// Entry is one record in the shared log.
type Entry struct {
	PromptID  string    `json:"prompt_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// snapshot is the on-disk document written by Save.
type snapshot struct {
	Entries []Entry `json:"entries"`
}

// SharedMemory is a thread-safe append-only log. Entries are never removed
// or edited; bounded reads return the most recent N.
type SharedMemory struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// New creates an empty SharedMemory.
func New() *SharedMemory {
	return &SharedMemory{now: time.Now}
}

// Record appends an entry and returns it.
func (m *SharedMemory) Record(promptID, key, value string) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := Entry{
		PromptID:  promptID,
		Key:       key,
		Value:     value,
		Timestamp: m.now(),
	}
	m.entries = append(m.entries, e)
	return e
}

// ContextFor returns the entries recorded strictly before the first entry
// belonging to promptID, limited to the most recent n (n <= 0 means all).
// If promptID has no entries yet, the whole log is eligible.
func (m *SharedMemory) ContextFor(promptID string, n int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := len(m.entries)
	for i, e := range m.entries {
		if e.PromptID == promptID {
			end = i
			break
		}
	}
	return tail(m.entries[:end], n)
}

// All returns the most recent n entries (n <= 0 means all).
func (m *SharedMemory) All(n int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.entries, n)
}

// Search returns entries whose key or value contains query, case-insensitively.
func (m *SharedMemory) Search(query string) []Entry {
	q := strings.ToLower(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if strings.Contains(strings.ToLower(e.Key), q) || strings.Contains(strings.ToLower(e.Value), q) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (m *SharedMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Save writes the full log to path as JSON. The file is replaced atomically.
func (m *SharedMemory) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(snapshot{Entries: m.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data)
}

// Load replaces the log with the contents of path. A missing file leaves
// the log untouched and is not an error.
func (m *SharedMemory) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read memory %s: %w", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse memory %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = snap.Entries
	return nil
}

// Render formats entries as a bullet list for prompt injection.
func Render(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s", e.Key, e.Value)
	}
	return b.String()
}

// tail copies the last n entries of s.
func tail(s []Entry, n int) []Entry {
	if n > 0 && len(s) > n {
		s = s[len(s)-n:]
	}
	out := make([]Entry, len(s))
	copy(out, s)
	return out
}
