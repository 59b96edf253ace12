package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntervalToExpr(t *testing.T) {
	if got := intervalToExpr(5); got != "*/5 * * * *" {
		t.Fatalf("intervalToExpr(5) = %q", got)
	}
}

func TestCronToolRejectsMissingCommand(t *testing.T) {
	sched := NewCronScheduler(t.TempDir())
	tool := NewCronTool(sched)

	args, _ := json.Marshal(map[string]interface{}{"schedule_type": "interval", "interval_minutes": 5})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments, got %+v", res)
	}
}

func TestCronToolRejectsDeniedCommand(t *testing.T) {
	sched := NewCronScheduler(t.TempDir())
	tool := NewCronTool(sched)

	args, _ := json.Marshal(map[string]interface{}{
		"schedule_type": "interval", "interval_minutes": 5, "command": "rm",
	})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrPermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", res)
	}
}

func TestCronToolRejectsIntervalBelowFloor(t *testing.T) {
	sched := NewCronScheduler(t.TempDir())
	tool := NewCronTool(sched)

	args, _ := json.Marshal(map[string]interface{}{
		"schedule_type": "interval", "interval_minutes": 1, "command": "echo",
	})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments for sub-floor interval, got %+v", res)
	}
}

func TestCronToolRegistersIntervalJob(t *testing.T) {
	sched := NewCronScheduler(t.TempDir())
	tool := NewCronTool(sched)

	args, _ := json.Marshal(map[string]interface{}{
		"schedule_type": "interval", "interval_minutes": 5, "command": "echo", "args": []string{"hi"},
	})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.jobs) != 1 {
		t.Fatalf("expected 1 registered job, got %d", len(sched.jobs))
	}
	for _, j := range sched.jobs {
		if j.intervalExpr != "*/5 * * * *" {
			t.Fatalf("unexpected interval expr %q", j.intervalExpr)
		}
	}
}

func TestCronToolRegistersFireAtJob(t *testing.T) {
	sched := NewCronScheduler(t.TempDir())
	tool := NewCronTool(sched)

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	args, _ := json.Marshal(map[string]interface{}{
		"schedule_type": "fire_at", "fire_at": future, "command": "echo",
	})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.jobs) != 1 {
		t.Fatalf("expected 1 registered job, got %d", len(sched.jobs))
	}
}

func TestCronToolRejectsMalformedFireAt(t *testing.T) {
	sched := NewCronScheduler(t.TempDir())
	tool := NewCronTool(sched)

	args, _ := json.Marshal(map[string]interface{}{
		"schedule_type": "fire_at", "fire_at": "not-a-time", "command": "echo",
	})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments, got %+v", res)
	}
}

func TestCronSchedulerTickFiresDueOneShotOnceThenRemoves(t *testing.T) {
	workspace := t.TempDir()
	marker := filepath.Join(workspace, "ran")

	sched := NewCronScheduler(workspace)
	job := &cronJob{command: "touch", args: []string{marker}, fireAt: time.Now().UTC().Add(-time.Second)}
	id := sched.register(job)

	sched.tick(context.Background(), time.Now().UTC())
	time.Sleep(200 * time.Millisecond)

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected marker file to be created: %v", err)
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if _, exists := sched.jobs[id]; exists {
		t.Fatalf("fired one-shot job should have been removed")
	}
}

func TestIntFromArg(t *testing.T) {
	cases := map[interface{}]int{
		float64(5): 5,
		"7":        7,
		3:          3,
		nil:        0,
	}
	for in, want := range cases {
		if got := intFromArg(in); got != want {
			t.Fatalf("intFromArg(%v) = %d, want %d", in, got, want)
		}
	}
}
