package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// cronJob is one scheduled task registered via the cron tool. Exactly one
// of intervalExpr/fireAt is set, matching spec §4.E's
// schedule∈{fire_at(time), interval(minutes≥2)}.
type cronJob struct {
	id          string
	intervalExpr string    // a 5-field cron expression, e.g. "*/5 * * * *"
	fireAt      time.Time // zero unless this is a one-shot job
	fired       bool
	command     string
	args        []string
}

// CronScheduler owns the set of registered jobs and the background loop
// that evaluates due-ness once a minute — gronx's expressions don't
// resolve finer than minute granularity, which matches spec's
// interval(minutes≥2) floor.
//
// Authored against gronx's public IsDue API.
type CronScheduler struct {
	mu       sync.Mutex
	jobs     map[string]*cronJob
	workspace string
}

// NewCronScheduler returns an empty scheduler. Commands run with workspace
// as their working directory.
func NewCronScheduler(workspace string) *CronScheduler {
	return &CronScheduler{jobs: make(map[string]*cronJob), workspace: workspace}
}

// Run evaluates due jobs once a minute until ctx is cancelled. Interval
// jobs survive individual failures (a failed run is logged, not
// deregistered); fire_at jobs are removed once they've fired.
func (s *CronScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *CronScheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*cronJob
	for _, j := range s.jobs {
		if j.fireAt.IsZero() {
			ok, err := gronx.IsDue(j.intervalExpr, now)
			if err == nil && ok {
				due = append(due, j)
			}
			continue
		}
		if !j.fired && !now.Before(j.fireAt) {
			j.fired = true
			due = append(due, j)
		}
	}
	// Remove fired one-shot jobs.
	for id, j := range s.jobs {
		if !j.fireAt.IsZero() && j.fired {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		go s.runJob(ctx, j)
	}
}

func (s *CronScheduler) runJob(ctx context.Context, j *cronJob) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, j.command, j.args...)
	cmd.Dir = s.workspace

	if err := cmd.Run(); err != nil {
		slog.Error("cron job failed", "id", j.id, "command", j.command, "error", err)
		return
	}
	slog.Info("cron job completed", "id", j.id, "command", j.command)
}

// register adds a job and returns its id.
func (s *CronScheduler) register(j *cronJob) string {
	j.id = uuid.NewString()
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()
	return j.id
}

// RegisterLine parses one HEARTBEAT.md bullet ("interval(N) command
// args..." or "fire_at(HH:MM) command args...", the cron tool's two
// schedule kinds, except that here fire_at takes an HH:MM clock time where
// the tool takes an RFC3339 timestamp) and registers it as a job. Grounds the Lifecycle Coordinator's startup-time
// HEARTBEAT.md wiring (a file spec §6 lists in the workspace layout but
// never gives an operation of its own) without duplicating the cron
// tool's Execute validation path.
func (s *CronScheduler) RegisterLine(line string) (string, error) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
	if line == "" {
		return "", fmt.Errorf("empty heartbeat line")
	}

	var job cronJob
	switch {
	case strings.HasPrefix(line, "interval("):
		closeIdx := strings.Index(line, ")")
		if closeIdx < 0 {
			return "", fmt.Errorf("malformed interval(...) heartbeat line: %q", line)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(line[len("interval("):closeIdx]))
		if err != nil || minutes < 2 {
			return "", fmt.Errorf("interval must be an integer >= 2: %q", line)
		}
		job.intervalExpr = intervalToExpr(minutes)
		line = strings.TrimSpace(line[closeIdx+1:])
	case strings.HasPrefix(line, "fire_at("):
		closeIdx := strings.Index(line, ")")
		if closeIdx < 0 {
			return "", fmt.Errorf("malformed fire_at(...) heartbeat line: %q", line)
		}
		clock := strings.TrimSpace(line[len("fire_at("):closeIdx])
		at, err := nextOccurrence(clock, time.Now().UTC())
		if err != nil {
			return "", fmt.Errorf("fire_at must be HH:MM: %w", err)
		}
		job.fireAt = at
		line = strings.TrimSpace(line[closeIdx+1:])
	default:
		return "", fmt.Errorf("heartbeat line missing interval(...)/fire_at(...) prefix: %q", line)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("heartbeat line has no command: %q", line)
	}
	job.command = fields[0]
	job.args = fields[1:]

	return s.register(&job), nil
}

// nextOccurrence resolves an "HH:MM" clock time to the next UTC instant it
// occurs: today if still ahead of now, tomorrow otherwise.
func nextOccurrence(clock string, now time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at, nil
}

// intervalToExpr converts an interval in minutes (≥2 per spec) to a 5-field
// cron expression gronx can evaluate.
func intervalToExpr(minutes int) string {
	return fmt.Sprintf("*/%d * * * *", minutes)
}

// CronTool registers scheduled jobs on a CronScheduler, implementing spec
// §4.E's "cron" contract.
type CronTool struct {
	scheduler *CronScheduler
}

// NewCronTool returns a cron tool backed by scheduler.
func NewCronTool(scheduler *CronScheduler) *CronTool {
	return &CronTool{scheduler: scheduler}
}

func (t *CronTool) Name() string        { return "cron" }
func (t *CronTool) Description() string { return "Schedule a command to run once at a time or repeatedly on an interval" }
func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"schedule_type": map[string]interface{}{
				"type": "string",
				"enum": []string{"fire_at", "interval"},
			},
			"fire_at": map[string]interface{}{
				"type":        "string",
				"description": "RFC3339 timestamp; required when schedule_type=fire_at",
			},
			"interval_minutes": map[string]interface{}{
				"type":        "integer",
				"minimum":     2,
				"description": "Minutes between runs; required when schedule_type=interval",
			},
			"command": map[string]interface{}{"type": "string"},
			"args": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"schedule_type", "command"},
	}
}

func (t *CronTool) Execute(_ context.Context, _ ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}

	command, cmdArgs, _ := parseExecArgs(args)
	if command == "" {
		return KindResult(ErrInvalidArguments, "command is required")
	}
	if err := isDenied(command, cmdArgs); err != nil {
		return KindResult(ErrPermissionDenied, err.Error())
	}

	scheduleType, _ := args["schedule_type"].(string)
	job := &cronJob{command: command, args: cmdArgs}

	switch scheduleType {
	case "fire_at":
		at, _ := args["fire_at"].(string)
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return KindResult(ErrInvalidArguments, fmt.Sprintf("fire_at must be RFC3339: %v", err))
		}
		job.fireAt = ts.UTC()
	case "interval":
		minutes := intFromArg(args["interval_minutes"])
		if minutes < 2 {
			return KindResult(ErrInvalidArguments, "interval_minutes must be >= 2")
		}
		job.intervalExpr = intervalToExpr(minutes)
	default:
		return KindResult(ErrInvalidArguments, fmt.Sprintf("unknown schedule_type: %s", scheduleType))
	}

	id := t.scheduler.register(job)
	return SilentResult(fmt.Sprintf("scheduled job %s", id))
}

func intFromArg(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}
