package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	EntryID() string
}

// Topic constants
const (
	TopicEntry = "entry"
	TopicQueue = "queue"
)

// Event type constants
const (
	EventTypeEntrySubmitted = "entry.submitted"
	EventTypeEntryStarted   = "entry.started"
	EventTypeEntryCompleted = "entry.completed"
	EventTypeEntryFailed    = "entry.failed"
	EventTypeEntryCancelled = "entry.cancelled"
	EventTypeQueueProgress  = "queue.progress"
)

// EntrySubmittedEvent is published when a prompt enters the queue.
type EntrySubmittedEvent struct {
	ID        string
	Text      string
	Priority  int
	DependsOn []string
	Timestamp time.Time
}

func (e EntrySubmittedEvent) EventType() string { return EventTypeEntrySubmitted }
func (e EntrySubmittedEvent) EntryID() string   { return e.ID }

// EntryStartedEvent is published when a worker picks up an entry.
type EntryStartedEvent struct {
	ID        string
	Agent     string
	Timestamp time.Time
}

func (e EntryStartedEvent) EventType() string { return EventTypeEntryStarted }
func (e EntryStartedEvent) EntryID() string   { return e.ID }

// EntryCompletedEvent is published when an entry finishes successfully.
type EntryCompletedEvent struct {
	ID         string
	Agent      string
	Output     string
	TokensUsed int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e EntryCompletedEvent) EventType() string { return EventTypeEntryCompleted }
func (e EntryCompletedEvent) EntryID() string   { return e.ID }

// EntryFailedEvent is published when an entry ends in failure or timeout,
// including entries failed by dependency propagation.
type EntryFailedEvent struct {
	ID        string
	Agent     string
	Status    string
	Err       string
	Duration  time.Duration
	Timestamp time.Time
}

func (e EntryFailedEvent) EventType() string { return EventTypeEntryFailed }
func (e EntryFailedEvent) EntryID() string   { return e.ID }

// EntryCancelledEvent is published when a queued entry is cancelled.
type EntryCancelledEvent struct {
	ID        string
	Timestamp time.Time
}

func (e EntryCancelledEvent) EventType() string { return EventTypeEntryCancelled }
func (e EntryCancelledEvent) EntryID() string   { return e.ID }

// QueueProgressEvent is published after every dispatcher state change.
type QueueProgressEvent struct {
	Queued    int
	Running   int
	Completed int
	Failed    int
	Timestamp time.Time
}

func (e QueueProgressEvent) EventType() string { return EventTypeQueueProgress }
func (e QueueProgressEvent) EntryID() string   { return "" }
