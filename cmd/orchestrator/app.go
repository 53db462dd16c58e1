package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aristath/researchflow/internal/backend"
	"github.com/aristath/researchflow/internal/config"
	"github.com/aristath/researchflow/internal/events"
	"github.com/aristath/researchflow/internal/orchestrator"
	"github.com/aristath/researchflow/internal/persistence"
	"github.com/aristath/researchflow/internal/queue"
	"github.com/aristath/researchflow/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// appOptions overrides parts of the wiring. Zero values use the loaded config.
type appOptions struct {
	Config   *config.OrchestratorConfig // nil: config.LoadDefault()
	Executor scheduler.AgentExecutor    // nil: agent CLIs via orchestrator.BackendExecutor
	Store    *persistence.SQLiteStore   // nil: SQLite file at Queue.KnowledgeDB
	Workers  int
	StateDir string
	NoState  bool // neither restore nor save queue state
	Verbose  bool
	Out      io.Writer
}

// app is one wired queue session.
type app struct {
	cfg     *config.OrchestratorConfig
	exec    scheduler.AgentExecutor
	workers int
	pm      *backend.ProcessManager
	store   *persistence.SQLiteStore
	bus     *events.EventBus
	queue   *queue.Queue
	out     io.Writer

	logDone chan struct{}
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	a := &app{cfg: cfg, pm: backend.NewProcessManager(), out: opts.Out}

	exec := opts.Executor
	if exec == nil {
		retry := orchestrator.DefaultRetryConfig()
		retry.MaxRetries = cfg.Queue.MaxRetries
		exec = orchestrator.NewBackendExecutor(orchestrator.BackendExecutorConfig{
			Config:         cfg,
			ProcessManager: a.pm,
			Timeout:        cfg.Queue.AgentTimeout(),
			Retry:          retry,
		})
	}

	a.exec = exec

	a.store = opts.Store
	if a.store == nil {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Queue.KnowledgeDB)
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
		a.store = store
	}

	a.bus = events.NewEventBus()
	if opts.Verbose {
		a.logDone = make(chan struct{})
		go a.logEvents(a.bus.SubscribeAll(256))
	}

	a.workers = cfg.Queue.MaxWorkers
	if opts.Workers > 0 {
		a.workers = opts.Workers
	}
	stateDir := cfg.Queue.StateDir
	if opts.StateDir != "" {
		stateDir = opts.StateDir
	}
	if opts.NoState {
		stateDir = ""
	}

	q, err := queue.New(queue.Config{
		MaxWorkers:    a.workers,
		PollInterval:  cfg.Queue.PollInterval(),
		ContextWindow: cfg.Queue.ContextWindow,
		StateDir:      stateDir,
		Router:        buildRouter(cfg),
		Sink:          a.store,
		History:       a.store,
		Bus:           a.bus,
	}, exec)
	if err != nil {
		a.bus.Close()
		a.store.Close()
		return nil, err
	}
	a.queue = q
	return a, nil
}

// buildRouter returns a router over the configured routing table, or the
// built-in table when none is configured.
func buildRouter(cfg *config.OrchestratorConfig) *scheduler.Router {
	if len(cfg.Routing) == 0 {
		return scheduler.DefaultRouter()
	}
	rules := make([]scheduler.RouteRule, 0, len(cfg.Routing))
	for _, r := range cfg.Routing {
		rules = append(rules, scheduler.RouteRule{Role: scheduler.AgentRole(r.Agent), Keywords: r.Keywords})
	}
	return scheduler.NewRouter(rules, scheduler.RoleCoder)
}

// wait drains the queue. If ctx is cancelled first (a signal), running agent
// calls are abandoned: the queue is shut down at once so unfinished entries
// are saved for resume, and agent subprocesses are killed.
func (a *app) wait(ctx context.Context) []queue.Entry {
	entries := a.queue.Drain(ctx)
	if ctx.Err() == nil {
		return entries
	}

	log.Println("Shutdown signal received, saving queue state...")
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.queue.Shutdown(expired)
	if err := a.pm.KillAll(); err != nil {
		log.Printf("ERROR: failed to kill agent processes: %v", err)
	}
	return entries
}

// close shuts the queue down and releases the store and bus.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.queue.Shutdown(ctx); err != nil {
		log.Printf("WARNING: queue shutdown: %v", err)
		if err := a.pm.KillAll(); err != nil {
			log.Printf("ERROR: failed to kill agent processes: %v", err)
		}
	}
	a.bus.Close()
	if a.logDone != nil {
		<-a.logDone
	}
	if err := a.store.Close(); err != nil {
		log.Printf("WARNING: failed to close knowledge store: %v", err)
	}
}

// logEvents prints entry lifecycle events until the bus is closed.
func (a *app) logEvents(ch <-chan events.Event) {
	defer close(a.logDone)
	for ev := range ch {
		switch e := ev.(type) {
		case events.EntryStartedEvent:
			log.Printf("entry %s started on %s", e.ID, e.Agent)
		case events.EntryCompletedEvent:
			log.Printf("entry %s completed by %s in %s (%d tokens)", e.ID, e.Agent, e.Duration.Round(time.Millisecond), e.TokensUsed)
		case events.EntryFailedEvent:
			log.Printf("entry %s %s: %s", e.ID, e.Status, e.Err)
		case events.EntryCancelledEvent:
			log.Printf("entry %s cancelled", e.ID)
		case events.QueueProgressEvent:
			log.Printf("queue: %d queued, %d running, %d done, %d failed", e.Queued, e.Running, e.Completed, e.Failed)
		}
	}
}
