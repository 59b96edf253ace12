package agent

import (
	"strings"

	"github.com/nextlevelbuilder/miniclaw/internal/providers"
	"github.com/nextlevelbuilder/miniclaw/internal/sessions"
)

// limitHistoryTurns keeps at most the last maxMessages session messages,
// mirroring the Context Builder's own layer-6 cap (spec §4.D) before the
// repair pass below runs. Session already bounds at 50 messages via
// sessions.Manager.AddMessage, so this is a second, cheaper defensive trim
// working in message units rather than conversational turns.
func limitHistoryTurns(messages []sessions.Message, maxMessages int) []sessions.Message {
	if maxMessages <= 0 || len(messages) <= maxMessages {
		return messages
	}
	return messages[len(messages)-maxMessages:]
}

// sanitizeHistoryForProvider repairs a possibly-truncated message slice so
// it never starts or ends mid-tool-call: an assistant message's tool_calls
// must always be followed by matching tool-result messages, or many
// providers reject the request outright (spec §4.D's "never omit layer
// 1/7" invariant extended to internal well-formedness of layer 6).
func sanitizeHistoryForProvider(messages []sessions.Message) []sessions.Message {
	if len(messages) == 0 {
		return messages
	}

	out := make([]sessions.Message, 0, len(messages))
	pendingCalls := map[string]bool{}

	for _, m := range messages {
		switch m.Role {
		case "tool":
			// Drop a tool-result message whose call id was truncated away
			// — it would be an orphan with nothing to correlate to.
			if m.ToolCallID != "" && !pendingCalls[m.ToolCallID] {
				continue
			}
			delete(pendingCalls, m.ToolCallID)
			out = append(out, m)
		case "assistant":
			if len(m.ToolCalls) > 0 {
				for _, tc := range m.ToolCalls {
					pendingCalls[tc.ID] = true
				}
			}
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}

	// Any tool_calls left unanswered (truncation cut the tool-result
	// messages, or the turn was interrupted mid-execution) get a synthetic
	// placeholder so the provider never sees a dangling tool_use.
	if len(pendingCalls) > 0 {
		repaired := make([]sessions.Message, 0, len(out)+len(pendingCalls))
		for _, m := range out {
			repaired = append(repaired, m)
			if m.Role != "assistant" {
				continue
			}
			for _, tc := range m.ToolCalls {
				if pendingCalls[tc.ID] {
					repaired = append(repaired, sessions.Message{
						Role:       "tool",
						Content:    "[result unavailable: truncated from history]",
						Timestamp:  m.Timestamp,
						ToolCallID: tc.ID,
					})
				}
			}
		}
		out = repaired
	}

	// A history slice may not start with an orphaned tool-result (its call
	// was trimmed off the front); drop any leading tool messages.
	start := 0
	for start < len(out) && out[start].Role == "tool" {
		start++
	}
	return out[start:]
}

// dedupeTrailingUserMessage drops the History layer's copy of the current
// turn's user message when it duplicates the Context Builder's own layer-7
// entry, which Build always appends. This matters only when the caller's
// session history already contains this turn's user message (it is added
// to the session before the first LLM call of the turn, per spec §4.C
// step 1) and it is the last history entry, which holds on the turn's first
// iteration — without this, that iteration would show the same user
// content twice in a row. Once assistant or tool entries follow it, the
// history copy is kept.
func dedupeTrailingUserMessage(messages []providers.Message, current string) []providers.Message {
	if len(messages) < 2 {
		return messages
	}
	last := len(messages) - 1
	if messages[last].Role != "user" || strings.TrimSpace(messages[last].Content) != strings.TrimSpace(current) {
		return messages
	}
	prev := last - 1
	if messages[prev].Role == "user" && strings.TrimSpace(messages[prev].Content) == strings.TrimSpace(current) {
		out := make([]providers.Message, 0, len(messages)-1)
		out = append(out, messages[:prev]...)
		out = append(out, messages[prev+1:]...)
		return out
	}
	return messages
}
