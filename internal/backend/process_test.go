package backend

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExecuteCommand_StdoutAndStderr(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "sh", "-c", "echo error >&2; echo ok")

	stdout, stderr, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "ok") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(string(stderr), "error") {
		t.Errorf("stderr = %q", stderr)
	}
}

// Output well above the 64KB pipe buffer must not stall the child.
func TestExecuteCommand_LargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newCommand(ctx, "sh", "-c", "i=0; while [ $i -lt 20000 ]; do echo line-$i; echo err-$i >&2; i=$((i+1)); done")
	stdout, _, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("executeCommand: %v", err)
	}
	if lines := strings.Count(string(stdout), "\n"); lines != 20000 {
		t.Errorf("expected 20000 lines, got %d", lines)
	}
}

func TestExecuteCommand_NonZeroExit(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "sh", "-c", "echo bad >&2; exit 3")

	_, _, err := executeCommand(ctx, cmd, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error should carry stderr, got %v", err)
	}
}

func TestExecuteCommand_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	pm := NewProcessManager()
	cmd := newCommand(ctx, "sh", "-c", "sleep 30 & sleep 30")

	start := time.Now()
	_, _, err := executeCommand(ctx, cmd, pm)
	if err == nil {
		t.Fatal("expected error due to context cancellation")
	}
	if !strings.Contains(err.Error(), "deadline exceeded") {
		t.Errorf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process group not killed promptly (%v)", elapsed)
	}
	if pm.Count() != 0 {
		t.Errorf("expected untracked process, count=%d", pm.Count())
	}
}

func TestProcessManager_KillAll(t *testing.T) {
	pm := NewProcessManager()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		cmd := newCommand(ctx, "sh", "-c", "sleep 30")
		_, _, err := executeCommand(ctx, cmd, pm)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pm.Count() != 1 {
		t.Fatalf("expected 1 tracked process, got %d", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("killed command should report an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command did not exit after KillAll")
	}
}
