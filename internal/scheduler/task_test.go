package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusQueued, StatusRouting, true},
		{StatusRouting, StatusRunning, true},
		{StatusRunning, StatusSuccess, true},
		{StatusQueued, StatusCancelled, true},
		{StatusRunning, StatusTimeout, true},
		{StatusRunning, StatusPending, false},
		{StatusRunning, StatusQueued, false},
		{StatusSuccess, StatusFailure, false},
		{StatusCancelled, StatusQueued, false},
		{StatusRunning, StatusRunning, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskFinishOnce(t *testing.T) {
	task := NewTask("t1", "do it")
	if err := task.Transition(StatusRunning); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	first := TaskResult{Status: StatusSuccess, Output: "first"}
	if err := task.Finish(first); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	err := task.Finish(TaskResult{Status: StatusFailure, Output: "second"})
	if !errors.Is(err, ErrResultAlreadySet) {
		t.Fatalf("expected ErrResultAlreadySet, got %v", err)
	}
	if task.Result.Output != "first" || task.Status != StatusSuccess {
		t.Errorf("result overwritten: %+v", task.Result)
	}
}

func TestTaskFinishRejectsNonTerminal(t *testing.T) {
	task := NewTask("t1", "")
	err := task.Finish(TaskResult{Status: StatusRunning})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if task.Result != nil {
		t.Error("result should not be attached")
	}
}

func TestTaskResultDuration(t *testing.T) {
	start := time.Now()
	r := TaskResult{Started: start, Ended: start.Add(2 * time.Second)}
	if r.Duration() != 2*time.Second {
		t.Errorf("Duration() = %v", r.Duration())
	}
	if (TaskResult{}).Duration() != 0 {
		t.Error("zero result should have zero duration")
	}
}
