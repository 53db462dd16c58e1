package queue

import (
	"time"

	"github.com/aristath/researchflow/internal/memory"
	"github.com/aristath/researchflow/internal/scheduler"
)

// Entry is one prompt in the queue.
//
// Lifecycle: queued -> routing -> running -> success | failure | timeout,
// or queued -> cancelled. Entries that never run because a dependency did
// not succeed end in failure with scheduler.MsgDependencyFailed.
type Entry struct {
	ID        string              `json:"id"`
	Text      string              `json:"text"`
	Agent     scheduler.AgentRole `json:"agent,omitempty"`
	Priority  int                 `json:"priority"`
	DependsOn []string            `json:"depends_on,omitempty"`
	Status    scheduler.Status    `json:"status"`
	Error     string              `json:"error,omitempty"`

	// ContextSnapshot is the shared-memory view frozen at dispatch time.
	ContextSnapshot []memory.Entry        `json:"context_snapshot,omitempty"`
	Result          *scheduler.TaskResult `json:"result,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Summary is the compact per-entry view returned by Status.
type Summary struct {
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	Agent    scheduler.AgentRole `json:"agent,omitempty"`
	Priority int                 `json:"priority"`
	Status   scheduler.Status    `json:"status"`
	Error    string              `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Queued      []Summary `json:"queued"`
	Running     []Summary `json:"running"`
	Completed   []Summary `json:"completed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"` // failure and timeout
	Cancelled   int       `json:"cancelled"`
	Dispatching bool      `json:"dispatching"`
}

// Idle reports whether nothing is queued or running.
func (s Snapshot) Idle() bool {
	return len(s.Queued) == 0 && len(s.Running) == 0
}

func (e *Entry) clone() Entry {
	cp := *e
	if e.DependsOn != nil {
		cp.DependsOn = append([]string(nil), e.DependsOn...)
	}
	if e.ContextSnapshot != nil {
		cp.ContextSnapshot = append([]memory.Entry(nil), e.ContextSnapshot...)
	}
	if e.Result != nil {
		r := *e.Result
		cp.Result = &r
	}
	return cp
}

func (e *Entry) summary(textPreview int) Summary {
	return Summary{
		ID:       e.ID,
		Text:     truncate(e.Text, textPreview),
		Agent:    e.Agent,
		Priority: e.Priority,
		Status:   e.Status,
		Error:    e.Error,
	}
}

// truncate shortens s to n runes, marking the cut with "...". n <= 0 disables it.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
