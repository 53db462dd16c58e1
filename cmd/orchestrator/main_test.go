package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/researchflow/internal/backend"
	"github.com/aristath/researchflow/internal/config"
	"github.com/aristath/researchflow/internal/persistence"
	"github.com/aristath/researchflow/internal/scheduler"
)

// stubExecutor answers every prompt with a canned result. Prompts containing
// "gate" block until release is closed, ignoring ctx.
type stubExecutor struct {
	mu      sync.Mutex
	roles   []scheduler.AgentRole
	prompts []string
	fail    string
	release chan struct{}
	started chan struct{}
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{release: make(chan struct{}), started: make(chan struct{}, 8)}
}

func (s *stubExecutor) Execute(ctx context.Context, role scheduler.AgentRole, prompt string) (scheduler.TaskResult, error) {
	s.mu.Lock()
	s.roles = append(s.roles, role)
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if strings.Contains(prompt, "gate") {
		s.started <- struct{}{}
		<-s.release
	}
	if s.fail != "" && strings.Contains(prompt, s.fail) {
		return scheduler.TaskResult{Status: scheduler.StatusFailure, Error: "agent crashed"}, nil
	}
	return scheduler.TaskResult{Status: scheduler.StatusSuccess, Output: "done: " + string(role), TokensUsed: 42}, nil
}

func (s *stubExecutor) calledRoles() []scheduler.AgentRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduler.AgentRole(nil), s.roles...)
}

func newTestApp(t *testing.T, exec scheduler.AgentExecutor, stateDir string, verbose bool) (*app, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Queue.PollIntervalMS = 5

	var out bytes.Buffer
	a, err := newApp(context.Background(), appOptions{
		Config:   cfg,
		Executor: exec,
		Store:    store,
		Workers:  2,
		StateDir: stateDir,
		Verbose:  verbose,
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a, &out
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunChainReportsAndRecords(t *testing.T) {
	exec := newStubExecutor()
	a, out := newTestApp(t, exec, t.TempDir(), true)
	defer a.close()

	ctx := testContext(t)
	entries, err := a.run(ctx, runRequest{
		Prompts: []string{"survey the literature on sparse attention", "write the related work section"},
		Chain:   true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := a.report(entries); err != nil {
		t.Errorf("report: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	got := out.String()
	for _, want := range []string{"[success]", "researcher: survey the literature", "    done: writer"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	results, err := a.store.Results(ctx, 0)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("history has %d results, want 2", len(results))
	}
	learnings, err := a.store.Learnings(ctx, "researcher", 0)
	if err != nil {
		t.Fatalf("Learnings: %v", err)
	}
	if len(learnings) != 1 || !strings.Contains(learnings[0].Content, "done: researcher") {
		t.Errorf("researcher learnings = %+v", learnings)
	}
}

func TestRunWorkflowUsesConfiguredSteps(t *testing.T) {
	exec := newStubExecutor()
	a, _ := newTestApp(t, exec, "", false)
	defer a.close()

	entries, err := a.run(testContext(t), runRequest{Prompts: []string{"a short paper on RAG"}, Workflow: "paper"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	want := []scheduler.AgentRole{scheduler.RoleResearcher, scheduler.RoleAnalyst, scheduler.RoleWriter, scheduler.RoleReviewer}
	got := exec.calledRoles()
	if len(got) != len(want) {
		t.Fatalf("roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d ran as %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunRejectsUnknownNames(t *testing.T) {
	a, _ := newTestApp(t, newStubExecutor(), "", false)
	defer a.close()
	if err := a.store.SaveResult(context.Background(), "broken", scheduler.TaskResult{Status: scheduler.StatusFailure}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	tests := []struct {
		name    string
		req     runRequest
		wantErr string
	}{
		{"workflow", runRequest{Prompts: []string{"x"}, Workflow: "nope"}, `unknown workflow "nope"`},
		{"missing dependency", runRequest{Prompts: []string{"x"}, DependsOn: []string{"ghost"}}, `unknown dependency "ghost"`},
		{"failed dependency", runRequest{Prompts: []string{"x"}, DependsOn: []string{"broken"}}, "Dependency failed: broken"},
		{"agent", runRequest{Prompts: []string{"x"}, Agent: "poet"}, `unknown agent "poet"`},
		{"empty prompt", runRequest{Prompts: []string{" "}}, "empty prompt text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.run(testContext(t), tt.req)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunDependsOnEarlierSession(t *testing.T) {
	a, _ := newTestApp(t, newStubExecutor(), "", false)
	defer a.close()
	ctx := testContext(t)
	if err := a.store.SaveResult(ctx, "survey-1", scheduler.TaskResult{Status: scheduler.StatusSuccess, Output: "12 papers"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	entries, err := a.run(ctx, runRequest{Prompts: []string{"summarize the survey"}, DependsOn: []string{"survey-1"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != scheduler.StatusSuccess {
		t.Errorf("entries = %+v", entries)
	}
}

func TestReportFailsOnUnsuccessfulEntries(t *testing.T) {
	exec := newStubExecutor()
	exec.fail = "broken"
	a, out := newTestApp(t, exec, "", false)
	defer a.close()

	entries, err := a.run(testContext(t), runRequest{
		Prompts: []string{"broken experiment", "plot the results"},
		Chain:   true,
		Agent:   "analyst",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	err = a.report(entries)
	if err == nil || err.Error() != "2 of 2 entries did not succeed" {
		t.Errorf("report error = %v", err)
	}
	if !strings.Contains(out.String(), "agent crashed") || !strings.Contains(out.String(), scheduler.MsgDependencyFailed) {
		t.Errorf("output missing failure details:\n%s", out.String())
	}
}

func TestResumeAfterInterrupt(t *testing.T) {
	stateDir := t.TempDir()

	first := newStubExecutor()
	a1, _ := newTestApp(t, first, stateDir, false)

	ctx, interrupt := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := a1.run(ctx, runRequest{Prompts: []string{"gate: collect sources", "summarise them"}, Chain: true}); err != nil {
			t.Errorf("run: %v", err)
		}
	}()

	select {
	case <-first.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first entry never started")
	}
	interrupt()
	<-done
	close(first.release)
	a1.close()

	second := newStubExecutor()
	close(second.release)
	a2, out := newTestApp(t, second, stateDir, false)
	defer a2.close()

	entries, n, err := a2.resume(testContext(t))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n != 2 {
		t.Errorf("resumed %d entries, want 2", n)
	}
	if err := a2.report(entries); err != nil {
		t.Errorf("report: %v\n%s", err, out.String())
	}
	if got := len(second.calledRoles()); got != 2 {
		t.Errorf("resumed session made %d agent calls, want 2", got)
	}
}

func TestBuildRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	if got := buildRouter(cfg).Route("proofread and review the draft"); got != scheduler.RoleReviewer {
		t.Errorf("default routing = %s", got)
	}

	cfg.Routing = []config.RouteConfig{{Agent: "analyst", Keywords: []string{"draft"}}}
	r := buildRouter(cfg)
	if got := r.Route("review the draft"); got != scheduler.RoleAnalyst {
		t.Errorf("configured routing = %s, want analyst", got)
	}
	if got := r.Route("something else"); got != scheduler.RoleCoder {
		t.Errorf("fallback = %s, want coder", got)
	}
}

func TestProcessManagerKillAll(t *testing.T) {
	pm := backend.NewProcessManager()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pm.Track(cmd)

	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll: %v", err)
	}

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	select {
	case err := <-waited:
		if err == nil {
			t.Error("expected killed process to exit with an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("process survived KillAll")
	}

	pm.Untrack(cmd)
	if n := pm.Count(); n != 0 {
		t.Errorf("expected no tracked processes, got %d", n)
	}
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPlan(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "valid yaml",
			body: `
tasks:
  - id: sources
    description: collect sources
  - id: related
    description: write related work
    agent: writer
    depends_on: [sources]
    writes_files: [paper/related.tex]
`,
		},
		{
			name: "json is accepted",
			body: `{"tasks": [{"id": "a", "description": "collect sources"}]}`,
		},
		{
			name:    "cycle",
			body:    "tasks:\n  - {id: a, description: x, depends_on: [b]}\n  - {id: b, description: y, depends_on: [a]}\n",
			wantErr: "cycle",
		},
		{
			name:    "unknown dependency",
			body:    "tasks:\n  - {id: a, description: x, depends_on: [ghost]}\n",
			wantErr: "non-existent",
		},
		{
			name:    "missing description",
			body:    "tasks:\n  - {id: a}\n",
			wantErr: "needs an id and a description",
		},
		{
			name:    "duplicate id",
			body:    "tasks:\n  - {id: a, description: x}\n  - {id: a, description: y}\n",
			wantErr: "invalid plan",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := loadPlan(writePlan(t, tt.body))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadPlan: %v", err)
			}
			if len(tasks) == 0 || tasks[0].Status != scheduler.StatusPending {
				t.Errorf("tasks = %+v", tasks)
			}
		})
	}
}

func TestRunPlanThreadsDependencyOutput(t *testing.T) {
	exec := newStubExecutor()
	exec.fail = "broken"
	a, out := newTestApp(t, exec, "", false)
	defer a.close()

	tasks, err := loadPlan(writePlan(t, `
tasks:
  - id: sources
    description: survey the literature
  - id: related
    description: write the related work section
    depends_on: [sources]
  - id: bench
    description: broken benchmark script
    agent: coder
  - id: plot
    description: plot the benchmark
    agent: analyst
    depends_on: [bench]
`))
	if err != nil {
		t.Fatalf("loadPlan: %v", err)
	}

	ctx := testContext(t)
	entries, err := a.runPlan(ctx, tasks)
	if err != nil {
		t.Fatalf("runPlan: %v", err)
	}

	want := map[string]scheduler.Status{
		"sources": scheduler.StatusSuccess,
		"related": scheduler.StatusSuccess,
		"bench":   scheduler.StatusFailure,
		"plot":    scheduler.StatusFailure,
	}
	for _, e := range entries {
		if e.Status != want[e.ID] {
			t.Errorf("%s: %s (%s), want %s", e.ID, e.Status, e.Error, want[e.ID])
		}
	}

	exec.mu.Lock()
	var relatedPrompt string
	for _, p := range exec.prompts {
		if strings.Contains(p, "write the related work section") {
			relatedPrompt = p
		}
	}
	exec.mu.Unlock()
	if !strings.Contains(relatedPrompt, "- [sources] done: researcher") {
		t.Errorf("dependency output not in prompt: %q", relatedPrompt)
	}

	if err := a.report(entries); err == nil || !strings.Contains(err.Error(), "2 of 4") {
		t.Errorf("report = %v", err)
	}
	if !strings.Contains(out.String(), scheduler.MsgDependencyFailed) {
		t.Errorf("output missing dependency failure:\n%s", out.String())
	}

	results, err := a.store.Results(ctx, 0)
	if err != nil || len(results) != 4 {
		t.Errorf("stored results = %d, %v", len(results), err)
	}
}

func TestRunExitCode(t *testing.T) {
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	tests := []struct {
		args []string
		want int
	}{
		{[]string{"--help"}, 0},
		{[]string{"no-such-command"}, 1},
		{[]string{"batch"}, 1},
	}
	for _, tt := range tests {
		rootCmd.SetArgs(tt.args)
		if got := run(); got != tt.want {
			t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}
