// Package queue implements the long-lived prompt queue: live submission,
// priority and dependency-aware dispatch to a bounded set of workers,
// shared-memory context injection, and resumable persistence.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/researchflow/internal/events"
	"github.com/aristath/researchflow/internal/memory"
	"github.com/aristath/researchflow/internal/scheduler"
)

var (
	// ErrClosed is returned by operations on a queue after Shutdown.
	ErrClosed = errors.New("queue is shut down")
	// ErrDuplicateID is returned when a submitted ID is already known.
	ErrDuplicateID = errors.New("duplicate entry ID")
	// ErrEmptyText is returned when a prompt has no text.
	ErrEmptyText = errors.New("empty prompt text")
)

// Sink receives short learnings for durable cross-session storage.
type Sink interface {
	AppendLearning(ctx context.Context, topic, text string) error
}

// History records the terminal result of every entry.
type History interface {
	SaveResult(ctx context.Context, entryID string, result scheduler.TaskResult) error
}

// Config configures a Queue. Zero values get defaults.
type Config struct {
	MaxWorkers    int           // default 4
	PollInterval  time.Duration // Dispatcher idle tick, default 100ms
	ContextWindow int           // Shared-memory entries per prompt, default 10
	StateDir      string        // memory.json and queue.json; empty disables persistence

	Router  *scheduler.Router    // default scheduler.DefaultRouter()
	Memory  *memory.SharedMemory // default memory.New()
	Sink    Sink                 // optional
	History History              // optional
	Bus     *events.EventBus     // optional

	// OnComplete is called with every finalized entry. Panics are recovered.
	OnComplete func(Entry)

	TextPreview   int // Text length in summaries and memory records, default 80
	OutputPreview int // Output prefix length in memory records, default 200
}

// Queue is a dependency-aware prompt queue. All methods are safe for
// concurrent use.
type Queue struct {
	cfg  Config
	exec scheduler.AgentExecutor

	mu          sync.Mutex
	queued      []*Entry // submission order
	running     map[string]*Entry
	completed   []*Entry                    // completion order
	outcomes    map[string]scheduler.Status // terminal status by ID, including restored history
	finalizing  int                         // completed entries whose side effects have not run yet
	dispatching bool
	closed      bool
	abandoned   bool          // Shutdown stopped waiting for running entries
	changed     chan struct{} // closed and replaced on every state change

	wake      chan struct{}
	stop      chan struct{}
	loops     sync.WaitGroup
	workers   sync.WaitGroup
	persistMu sync.Mutex

	ctx    context.Context // passed to agent calls; cancelled if Shutdown gives up
	cancel context.CancelFunc
}

// New creates a queue that runs prompts through exec.
func New(cfg Config, exec scheduler.AgentExecutor) (*Queue, error) {
	if exec == nil {
		return nil, fmt.Errorf("queue requires an agent executor")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}
	if cfg.Router == nil {
		cfg.Router = scheduler.DefaultRouter()
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.New()
	}
	if cfg.TextPreview <= 0 {
		cfg.TextPreview = 80
	}
	if cfg.OutputPreview <= 0 {
		cfg.OutputPreview = 200
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		exec:     exec,
		running:  make(map[string]*Entry),
		outcomes: make(map[string]scheduler.Status),
		changed:  make(chan struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Memory returns the shared memory the queue reads context from.
func (q *Queue) Memory() *memory.SharedMemory {
	return q.cfg.Memory
}

// Submit appends a prompt and returns its ID. It never blocks on execution
// and starts the dispatcher if it is idle.
func (q *Queue) Submit(text string, opts ...SubmitOption) (string, error) {
	o := applyOptions(opts)

	q.mu.Lock()
	e, err := q.submitLocked(text, o)
	q.mu.Unlock()
	if err != nil {
		return "", err
	}

	q.submitted(e)
	return e.ID, nil
}

// SubmitBatch submits texts in order. With chain, entry i depends on entry
// i-1; any WithDependsOn IDs apply to the first entry only. Without chain
// every entry gets the same options. The batch is all-or-nothing.
func (q *Queue) SubmitBatch(texts []string, chain bool, opts ...SubmitOption) ([]string, error) {
	o := applyOptions(opts)
	o.id = ""

	plans := make([]submitOptions, len(texts))
	for i := range texts {
		plans[i] = o
	}
	return q.submitChain(texts, plans, chain)
}

// submitChain atomically submits texts with per-entry options. With chain,
// every entry after the first depends only on its predecessor.
func (q *Queue) submitChain(texts []string, plans []submitOptions, chain bool) ([]string, error) {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("batch item %d: %w", i, ErrEmptyText)
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	added := make([]*Entry, 0, len(texts))
	prev := ""
	for i, text := range texts {
		p := plans[i]
		if chain && prev != "" {
			p.dependsOn = []string{prev}
		}
		e, err := q.submitLocked(text, p)
		if err != nil {
			// Unreachable with generated IDs and validated text.
			q.mu.Unlock()
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		added = append(added, e)
		prev = e.ID
	}
	q.mu.Unlock()

	ids := make([]string, len(added))
	for i, e := range added {
		ids[i] = e.ID
		q.submitted(e)
	}
	return ids, nil
}

func (q *Queue) submitLocked(text string, o submitOptions) (*Entry, error) {
	if q.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	id := o.id
	if id == "" {
		for id == "" || q.knownLocked(id) {
			id = uuid.New().String()[:8]
		}
	} else if q.knownLocked(id) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	e := &Entry{
		ID:          id,
		Text:        text,
		Agent:       o.agent,
		Priority:    o.priority,
		DependsOn:   append([]string(nil), o.dependsOn...),
		Status:      scheduler.StatusQueued,
		SubmittedAt: time.Now(),
	}
	q.queued = append(q.queued, e)
	q.ensureDispatcherLocked()
	q.notifyLocked()
	return e, nil
}

// submitted publishes the event and wakes the dispatcher. Called without the lock.
func (q *Queue) submitted(e *Entry) {
	q.publish(events.TopicEntry, events.EntrySubmittedEvent{
		ID:        e.ID,
		Text:      truncate(e.Text, q.cfg.TextPreview),
		Priority:  e.Priority,
		DependsOn: append([]string(nil), e.DependsOn...),
		Timestamp: time.Now(),
	})
	q.signal()
}

func (q *Queue) knownLocked(id string) bool {
	if _, ok := q.outcomes[id]; ok {
		return true
	}
	if _, ok := q.running[id]; ok {
		return true
	}
	for _, e := range q.queued {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Status returns a consistent point-in-time view.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Queued:      make([]Summary, 0, len(q.queued)),
		Running:     make([]Summary, 0, len(q.running)),
		Completed:   make([]Summary, 0, len(q.completed)),
		Dispatching: q.dispatching,
	}
	for _, e := range q.queued {
		snap.Queued = append(snap.Queued, e.summary(q.cfg.TextPreview))
	}
	for _, e := range q.runningInOrderLocked() {
		snap.Running = append(snap.Running, e.summary(q.cfg.TextPreview))
	}
	for _, e := range q.completed {
		snap.Completed = append(snap.Completed, e.summary(q.cfg.TextPreview))
		switch e.Status {
		case scheduler.StatusSuccess:
			snap.Succeeded++
		case scheduler.StatusCancelled:
			snap.Cancelled++
		default:
			snap.Failed++
		}
	}
	return snap
}

// Get returns a copy of the entry wherever it lives.
func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.running[id]; ok {
		return e.clone(), true
	}
	for _, e := range q.queued {
		if e.ID == id {
			return e.clone(), true
		}
	}
	for _, e := range q.completed {
		if e.ID == id {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// Cancel cancels a queued entry. It returns false if id is not queued;
// running and completed entries are never affected.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	idx := -1
	for i, e := range q.queued {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	e := q.cancelLocked(idx)
	q.mu.Unlock()

	q.finalize(e)
	q.signal()
	return true
}

// CancelAll cancels every queued entry and returns how many were cancelled.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	var cancelled []Entry
	for len(q.queued) > 0 {
		cancelled = append(cancelled, q.cancelLocked(0))
	}
	q.mu.Unlock()

	q.finalize(cancelled...)
	q.signal()
	return len(cancelled)
}

func (q *Queue) cancelLocked(idx int) Entry {
	e := q.queued[idx]
	q.queued = append(q.queued[:idx], q.queued[idx+1:]...)

	now := time.Now()
	e.Status = scheduler.StatusCancelled
	e.Error = "cancelled"
	e.Result = &scheduler.TaskResult{
		Agent:  e.Agent,
		Task:   e.Text,
		Status: scheduler.StatusCancelled,
		Error:  e.Error,
		Ended:  now,
	}
	e.CompletedAt = now
	q.completeLocked(e)
	return e.clone()
}

// Shutdown stops dispatching, waits for running entries (bounded by ctx)
// and persists state. Queued entries stay queued for Restore. If ctx
// expires first, in-flight agent calls are cancelled, entries still running
// are saved as queued, and ctx's error is returned. Those entries return to
// queued when their calls end; their results are not recorded.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	q.notifyLocked()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.loops.Wait()
		q.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		q.mu.Lock()
		q.abandoned = true
		q.mu.Unlock()
	}
	// Agent calls still running past the deadline are killed; their
	// entries are persisted as queued.
	q.cancel()

	q.persist()

	q.mu.Lock()
	q.notifyLocked()
	q.mu.Unlock()
	return err
}

func (q *Queue) runningInOrderLocked() []*Entry {
	out := make([]*Entry, 0, len(q.running))
	for _, e := range q.running {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entry) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// notifyLocked wakes Drain and Completed waiters.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// signal wakes the dispatcher without blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) publish(topic string, e events.Event) {
	if q.cfg.Bus != nil {
		q.cfg.Bus.Publish(topic, e)
	}
}
