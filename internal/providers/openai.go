package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider is the reference LlmProvider implementation: any backend
// speaking the OpenAI chat-completions wire format (OpenAI itself,
// OpenRouter, local llama.cpp servers, etc.).
//
// No Gemini tool-call-signature collapsing, DashScope thinking-budget
// passthrough, or vision image_url handling here — none of which the
// LlmProvider contract (one chat operation, text or tool calls, optional
// usage) asks for. Request/response plumbing is retry-wrapped; streaming
// uses a plain SSE read loop.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	chatPath     string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewOpenAIProvider builds a provider pointed at apiBase (e.g.
// "https://api.openai.com/v1") using apiKey for bearer auth.
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 30 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

// WithChatPath overrides the default "/chat/completions" suffix, for
// backends that mount the endpoint elsewhere.
func (p *OpenAIProvider) WithChatPath(path string) *OpenAIProvider {
	p.chatPath = path
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string  { return p.defaultModel }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIRequestBody struct {
	Model    string              `json:"model"`
	Messages []openAIMessage     `json:"messages"`
	Tools    []ToolDefinition    `json:"tools,omitempty"`
	Stream   bool                `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) buildRequestBody(req ChatRequest, stream bool) openAIRequestBody {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wire := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wireTC := openAIToolCall{ID: tc.ID, Type: "function"}
			wireTC.Function.Name = tc.Name
			wireTC.Function.Arguments = tc.Arguments
			wire.ToolCalls = append(wire.ToolCalls, wireTC)
		}
		msgs = append(msgs, wire)
	}

	return openAIRequestBody{
		Model:    model,
		Messages: msgs,
		Tools:    CleanToolSchemas(req.Tools),
		Stream:   stream,
	}
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body openAIRequestBody) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+p.chatPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending chat request: %w", err)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp, nil
}

func parseResponse(data []byte) (*ChatResponse, error) {
	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response carried no choices")
	}
	choice := parsed.Choices[0]

	resp := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

// Chat sends req and returns the complete response, retrying transient
// failures per p.retryConfig.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.buildRequestBody(req, false)

	var result *ChatResponse
	err := RetryDo(ctx, p.retryConfig, func(attempt int) error {
		resp, err := p.doRequest(ctx, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading chat response: %w", err)
		}
		parsed, err := parseResponse(data)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// toolCallAccumulator merges incremental tool_call deltas across SSE chunks
// into one completed ToolCall, keyed by the call id (the wire format streams
// function name/arguments in fragments, and only a call's first fragment
// carries its id, so a delta with no id continues the most recent call).
type toolCallAccumulator struct {
	order []string
	byID  map[string]*ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byID: make(map[string]*ToolCall)}
}

func (a *toolCallAccumulator) apply(delta openAIToolCall) {
	id := delta.ID
	if id == "" && len(a.order) > 0 {
		id = a.order[len(a.order)-1]
	}
	tc, ok := a.byID[id]
	if !ok {
		tc = &ToolCall{ID: id}
		a.byID[id] = tc
		a.order = append(a.order, id)
	}
	if delta.Function.Name != "" {
		tc.Name = delta.Function.Name
	}
	tc.Arguments += delta.Function.Arguments
}

func (a *toolCallAccumulator) finalize() []ToolCall {
	out := make([]ToolCall, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatStream sends req and streams content chunks to onChunk via SSE,
// returning the fully assembled response once the stream ends.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildRequestBody(req, true)

	var final *ChatResponse
	err := RetryDo(ctx, p.retryConfig, func(attempt int) error {
		resp, err := p.doRequest(ctx, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var content strings.Builder
		var finishReason string
		var usage *Usage
		accum := newToolCallAccumulator()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = &Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				onChunk(StreamChunk{Content: choice.Delta.Content})
			}
			for _, tc := range choice.Delta.ToolCalls {
				accum.apply(tc)
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading chat stream: %w", err)
		}

		onChunk(StreamChunk{Done: true})
		final = &ChatResponse{
			Content:      content.String(),
			ToolCalls:    accum.finalize(),
			FinishReason: finishReason,
			Usage:        usage,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}
