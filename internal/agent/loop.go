// Package agent implements the Agent Loop (spec §4.C): the
// Receive→Context→LLM→Tools→Reply iteration that turns one inbound message
// into a reply, with a hard iteration cap, per-call retry, and failure
// containment so a single bad turn never corrupts a session or crashes the
// process.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
	"github.com/nextlevelbuilder/miniclaw/internal/circuit"
	"github.com/nextlevelbuilder/miniclaw/internal/contextbuilder"
	"github.com/nextlevelbuilder/miniclaw/internal/providers"
	"github.com/nextlevelbuilder/miniclaw/internal/retry"
	"github.com/nextlevelbuilder/miniclaw/internal/sessions"
	"github.com/nextlevelbuilder/miniclaw/internal/tools"
)

// MaxIterations bounds one turn's LLM↔tool exchanges (spec §4.C, §8
// invariant 4). Exceeding it terminates the loop with a user-visible
// MaxIterationsReached message rather than looping forever.
const MaxIterations = 200

// llmCallTimeout bounds a single LLM attempt (spec §4.C step 3: "30s per
// attempt").
const llmCallTimeout = 30 * time.Second

// p95SampleSize is the rolling window the response-time tracker keeps
// (spec §4.C "bounded sample, e.g., last 100").
const p95SampleSize = 100

// p95WarnThreshold is the target spec §4.C warns against exceeding.
const p95WarnThreshold = 2 * time.Second

// Loop is the Agent Loop for the single agent instance this process runs.
// It owns no persistent state of its own; it holds shared references to
// its collaborators per spec §3's ownership rules.
//
// miniclaw is a single-agent daemon per spec §1: no multi-tenant
// dispatch, no WebSocket event broadcasting, no sandbox routing or
// delegate subagents. The Think→Act→Observe shape comes from spec §4.C
// directly. Every tool call of one LLM response runs concurrently (a single
// call goes through the same fan-out), and the only bound on a model that
// keeps calling tools is the maxIterations cap; there is no loop detector.
type Loop struct {
	provider providers.Provider
	model    string
	sessions *sessions.Manager
	tools    *tools.Registry
	builder  *contextbuilder.Builder
	bus      *bus.MessageBus
	breaker  *circuit.Breaker

	workspace     string
	maxIterations int

	metricsMu        sync.Mutex
	recentMs         []int64 // rolling sample of per-turn wall times, milliseconds
	recentLLMMs      []int64 // rolling sample of per-call LLM wall times, milliseconds
	recentToolMs     []int64 // rolling sample of per-turn tool-batch wall times, milliseconds
	recentIterations []int64 // rolling sample of iterations consumed per turn
}

// Config configures a new Loop.
type Config struct {
	Provider  providers.Provider
	Model     string
	Sessions  *sessions.Manager
	Tools     *tools.Registry
	Builder   *contextbuilder.Builder
	Bus       *bus.MessageBus
	Breaker   *circuit.Breaker // optional; nil disables circuit-breaking
	Workspace string

	// MaxIterations overrides MaxIterations for tests; zero uses the
	// spec-mandated default.
	MaxIterations int
}

// New builds a Loop from cfg.
func New(cfg Config) *Loop {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = MaxIterations
	}
	return &Loop{
		provider:      cfg.Provider,
		model:         cfg.Model,
		sessions:      cfg.Sessions,
		tools:         cfg.Tools,
		builder:       cfg.Builder,
		bus:           cfg.Bus,
		breaker:       cfg.Breaker,
		workspace:     cfg.Workspace,
		maxIterations: maxIter,
	}
}

// Handle processes one InboundMessage to completion: it is the
// bus.MessageHandler the Bus's Run drains into (spec §4.A/§4.C wiring).
// Handle never panics on caller input and never blocks the Bus beyond the
// turn's own work — a single conversation's turn is always processed
// serially with every other turn, by design (spec §4.C "Concurrency").
func (l *Loop) Handle(msg bus.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reply, err := l.ProcessOne(ctx, msg)
	if err != nil {
		slog.Error("agent turn failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	if reply == "" {
		return
	}
	l.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	})
}

// ProcessOne runs exactly one full turn for msg and returns the text to
// reply with (spec §4.C's iteration cycle). An empty reply with a nil
// error means the turn produced nothing to send: the assistant's final
// text sanitized to nothing, or an explicit NO_REPLY token — the turn is
// still recorded in the session, just never forwarded to the channel.
func (l *Loop) ProcessOne(ctx context.Context, msg bus.InboundMessage) (string, error) {
	turnStart := time.Now()

	sessionID := sessions.Key(msg.Channel, msg.ChatID)
	l.sessions.GetOrCreate(msg.Channel, msg.ChatID)

	l.sessions.AddMessage(sessionID, sessions.Message{
		Role:      "user",
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})

	iteration := 0
	for iteration < l.maxIterations {
		iteration++

		session := l.sessions.Get(sessionID)
		if session == nil {
			l.recordIterationCount(iteration)
			return "", fmt.Errorf("session %s vanished mid-turn", sessionID)
		}

		history := sanitizeHistoryForProvider(limitHistoryTurns(session.Messages, contextbuilder.DefaultMaxHistoryMessages))

		messages, err := l.builder.Build(ctx, history, msg.Content)
		if err != nil {
			return "", fmt.Errorf("building context: %w", err)
		}
		// On the first iteration the current user message is the session's
		// last entry and Build appends it again as layer 7, so drop
		// history's trailing duplicate. On later iterations assistant/tool
		// entries follow it in history, and both copies are kept.
		messages = dedupeTrailingUserMessage(messages, msg.Content)

		resp, err := l.callLLM(ctx, messages)
		if err != nil {
			slog.Warn("LLM call exhausted retries, degrading gracefully", "session", sessionID, "error", err)
			l.recordIterationCount(iteration)
			return gracefulDegradationMessage, nil
		}

		if len(resp.ToolCalls) == 0 {
			cleaned := SanitizeAssistantContent(resp.Content)
			l.sessions.AddMessage(sessionID, sessions.Message{
				Role:      "assistant",
				Content:   cleaned,
				Timestamp: time.Now().UTC(),
			})
			l.recordTurnLatency(time.Since(turnStart))
			l.recordIterationCount(iteration)
			if cleaned == "" || IsSilentReply(cleaned) {
				return "", nil
			}
			return cleaned, nil
		}

		assistantMsg := sessions.Message{
			Role:      "assistant",
			Content:   resp.Content,
			Timestamp: time.Now().UTC(),
			ToolCalls: toSessionToolCalls(resp.ToolCalls),
		}
		l.sessions.AddMessage(sessionID, assistantMsg)

		l.executeToolCalls(ctx, sessionID, msg, resp.ToolCalls)
	}

	slog.Warn("agent loop hit MaxIterationsReached", "session", sessionID, "max_iterations", l.maxIterations)
	reply := maxIterationsMessage
	l.sessions.AddMessage(sessionID, sessions.Message{Role: "assistant", Content: reply, Timestamp: time.Now().UTC()})
	l.recordIterationCount(iteration)
	return reply, nil
}

const gracefulDegradationMessage = "I'm having trouble reaching my reasoning backend right now. Please try again in a moment."

const maxIterationsMessage = "I wasn't able to finish this within my step limit — could you break the request into smaller steps?"

// callLLM wraps the provider call with the spec §4.C retry schedule
// (4 attempts: the first try plus 3 retries after 1/2/4s) and a
// per-attempt 30s timeout, and — when a circuit
// breaker is configured — short-circuits the call entirely while the
// breaker is Open (spec §5 "Circuit breaker").
func (l *Loop) callLLM(ctx context.Context, messages []providers.Message) (*providers.ChatResponse, error) {
	if l.breaker != nil && !l.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for provider %s", l.provider.Name())
	}

	callStart := time.Now()
	defer func() { l.recordLLMLatency(time.Since(callStart)) }()

	toolDefs := providers.CleanToolSchemas(l.tools.ListDefinitions())

	var resp *providers.ChatResponse
	err := retry.Do(ctx, retry.LLMCall, isRetryableLLMError, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		defer cancel()

		r, callErr := l.provider.Chat(attemptCtx, providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    l.model,
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})

	if l.breaker != nil {
		if err != nil {
			l.breaker.Failure()
		} else {
			l.breaker.Success()
		}
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *providers.HTTPError
	if ok := asHTTPError(err, &httpErr); ok {
		return httpErr.Retryable()
	}
	// Context deadline exceeded (the per-attempt 30s timeout firing) is
	// treated as retryable per spec §4.C ("On timeout ... count as
	// retryable"); anything else of unknown shape is assumed transient
	// too, matching the Bus's outbound delivery stance.
	return true
}

func asHTTPError(err error, target **providers.HTTPError) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if he, ok := e.(*providers.HTTPError); ok {
			*target = he
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// indexedToolResult pairs a tool call with its completed Result, keeping
// the original slice index so results can be re-sorted into call order
// after unordered concurrent completion (spec §4.C step 5, §5 "Within one
// LLM turn's tool calls: unordered (concurrent) completion").
type indexedToolResult struct {
	idx    int
	call   providers.ToolCall
	result *tools.Result
}

// executeToolCalls runs every tool call from one LLM turn concurrently,
// then appends their results to the session in the original call order so
// tool_call_id correlation reads naturally even though completion order was
// unordered.
func (l *Loop) executeToolCalls(ctx context.Context, sessionID string, msg bus.InboundMessage, calls []providers.ToolCall) {
	batchStart := time.Now()
	defer func() { l.recordToolLatency(time.Since(batchStart)) }()

	execCtx := tools.ExecutionContext{
		Channel:       msg.Channel,
		ChatID:        msg.ChatID,
		SessionID:     sessionID,
		WorkspacePath: l.workspace,
	}

	resultsCh := make(chan indexedToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call providers.ToolCall) {
			defer wg.Done()
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			result := l.tools.Execute(ctx, execCtx, call.Name, call.Arguments)
			resultsCh <- indexedToolResult{idx: idx, call: call, result: result}
		}(i, call)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	collected := make([]indexedToolResult, 0, len(calls))
	for r := range resultsCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	for _, r := range collected {
		if r.result.IsError {
			slog.Warn("tool call failed", "tool", r.call.Name, "kind", r.result.Kind, "message", r.result.ForLLM)
		}
		l.sessions.AddMessage(sessionID, sessions.Message{
			Role:       "tool",
			Content:    r.result.ForLLM,
			Timestamp:  time.Now().UTC(),
			ToolCallID: r.call.ID,
		})
	}
}

func toSessionToolCalls(calls []providers.ToolCall) []sessions.ToolCall {
	out := make([]sessions.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = sessions.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

// recordTurnLatency folds d into the rolling p95 sample and WARNs if the
// computed p95 exceeds the spec §4.C 2s target.
func (l *Loop) recordTurnLatency(d time.Duration) {
	l.metricsMu.Lock()
	l.recentMs = append(l.recentMs, d.Milliseconds())
	if len(l.recentMs) > p95SampleSize {
		l.recentMs = l.recentMs[len(l.recentMs)-p95SampleSize:]
	}
	p95 := percentile(l.recentMs, 95)
	l.metricsMu.Unlock()

	if time.Duration(p95)*time.Millisecond > p95WarnThreshold {
		slog.Warn("response time p95 exceeds target", "p95_ms", p95, "target_ms", p95WarnThreshold.Milliseconds())
	}
}

// P95 returns the current rolling p95 turn latency in milliseconds.
func (l *Loop) P95() int64 {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	return percentile(l.recentMs, 95)
}

// recordLLMLatency folds d into the rolling LLM-call wall-time sample
// (spec §4.C "Metrics": "per-turn wall time, LLM wall time, tool wall
// time, and iteration count").
func (l *Loop) recordLLMLatency(d time.Duration) {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	l.recentLLMMs = append(l.recentLLMMs, d.Milliseconds())
	if len(l.recentLLMMs) > p95SampleSize {
		l.recentLLMMs = l.recentLLMMs[len(l.recentLLMMs)-p95SampleSize:]
	}
}

// LLMP95 returns the current rolling p95 LLM-call wall time in
// milliseconds.
func (l *Loop) LLMP95() int64 {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	return percentile(l.recentLLMMs, 95)
}

// recordToolLatency folds d into the rolling tool-batch wall-time sample:
// the wall time of one turn's entire (possibly parallel) set of tool
// calls, not any single call.
func (l *Loop) recordToolLatency(d time.Duration) {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	l.recentToolMs = append(l.recentToolMs, d.Milliseconds())
	if len(l.recentToolMs) > p95SampleSize {
		l.recentToolMs = l.recentToolMs[len(l.recentToolMs)-p95SampleSize:]
	}
}

// ToolP95 returns the current rolling p95 tool-batch wall time in
// milliseconds.
func (l *Loop) ToolP95() int64 {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	return percentile(l.recentToolMs, 95)
}

// recordIterationCount folds n, the number of LLM↔tool iterations this
// turn consumed, into the rolling iteration-count sample.
func (l *Loop) recordIterationCount(n int) {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	l.recentIterations = append(l.recentIterations, int64(n))
	if len(l.recentIterations) > p95SampleSize {
		l.recentIterations = l.recentIterations[len(l.recentIterations)-p95SampleSize:]
	}
}

// AvgIterations returns the mean iteration count across the rolling
// sample, or 0 if no turn has completed yet.
func (l *Loop) AvgIterations() float64 {
	l.metricsMu.Lock()
	defer l.metricsMu.Unlock()
	if len(l.recentIterations) == 0 {
		return 0
	}
	var sum int64
	for _, v := range l.recentIterations {
		sum += v
	}
	return float64(sum) / float64(len(l.recentIterations))
}

func percentile(samples []int64, p int) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*p + 99) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
