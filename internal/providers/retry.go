package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls the retry/backoff applied to a provider's outbound
// HTTP calls, matching spec §7's retryable/terminal error split. Delays
// start at BaseDelay and double after each failed attempt; no wait follows
// the last attempt.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig is 3 attempts with a 1s base delay: a call that fails
// every time waits 1s, then 2s (absent a Retry-After hint).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// HTTPError wraps a non-2xx HTTP response, classified retryable when the
// status is 429 or 5xx.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether this status code is worth retrying.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ParseRetryAfter reads the Retry-After header (seconds form only; the
// HTTP-date form is not used by the providers this runtime targets) and
// returns the delay it names, or zero if absent/unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryDo runs fn up to cfg.MaxAttempts times with exponential backoff
// (cfg.BaseDelay, doubling each attempt), honoring a Retry-After hint
// surfaced via *HTTPError when present, and stopping early on a
// non-retryable error or context cancellation.
func RetryDo(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) {
			if !httpErr.Retryable() {
				return lastErr
			}
			wait := delay
			if httpErr.RetryAfter > 0 {
				wait = httpErr.RetryAfter
			}
			if attempt == cfg.MaxAttempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
			delay *= 2
			continue
		}

		// Unclassified errors (network blips, context deadline from the
		// HTTP client) are treated as transient.
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// CleanToolSchemas strips JSON Schema keywords that some OpenAI-compatible
// backends reject from a tool's parameters object ("$schema" and "$id", at
// any depth), returning a copy
// safe to send on the wire. invopop/jsonschema's generated output includes
// a top-level "$schema" key by default; this is the one piece of
// provider-facing cleanup every ToolDefinition needs before being attached
// to a ChatRequest.
func CleanToolSchemas(defs []ToolDefinition) []ToolDefinition {
	out := make([]ToolDefinition, len(defs))
	for i, d := range defs {
		params := cleanSchemaValue(d.Function.Parameters)
		m, _ := params.(map[string]interface{})
		out[i] = ToolDefinition{
			Type: d.Type,
			Function: ToolFunctionSchema{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  m,
			},
		}
	}
	return out
}

func cleanSchemaValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if k == "$schema" || k == "$id" {
				continue
			}
			out[k] = cleanSchemaValue(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = cleanSchemaValue(child)
		}
		return out
	default:
		return v
	}
}
