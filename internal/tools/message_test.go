package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []bus.OutboundMessage
}

func (s *recordingSender) Send(msg bus.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *recordingSender) first() bus.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[0]
}

// startDraining starts the bus's outbound drainer (the "message" tool only
// enqueues via the non-blocking mailbox; a test wants delivery observable)
// and waits briefly for at least one message to arrive.
func startDraining(t *testing.T, b *bus.MessageBus, sender *recordingSender) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.DrainOutbound(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sender.count() > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMessageToolRequiresChatIDAndContent(t *testing.T) {
	b := bus.New(nil)
	tool := NewMessageTool(b, "telegram")

	args, _ := json.Marshal(map[string]interface{}{"chat_id": "123"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments, got %+v", res)
	}
}

func TestMessageToolUsesChannelFromArgsOverContextAndDefault(t *testing.T) {
	b := bus.New(nil)
	sender := &recordingSender{}
	b.RegisterChannel("discord", sender)
	tool := NewMessageTool(b, "telegram")

	args, _ := json.Marshal(map[string]interface{}{"chat_id": "1", "content": "hi", "channel": "discord"})
	res := tool.Execute(context.Background(), ExecutionContext{Channel: "telegram"}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
	startDraining(t, b, sender)
	if sender.count() != 1 || sender.first().Channel != "discord" {
		t.Fatalf("expected delivery to discord, got %+v", sender.messages)
	}
}

func TestMessageToolFallsBackToExecutionContextChannel(t *testing.T) {
	b := bus.New(nil)
	sender := &recordingSender{}
	b.RegisterChannel("telegram", sender)
	tool := NewMessageTool(b, "discord")

	args, _ := json.Marshal(map[string]interface{}{"chat_id": "1", "content": "hi"})
	res := tool.Execute(context.Background(), ExecutionContext{Channel: "telegram"}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
	startDraining(t, b, sender)
	if sender.count() != 1 || sender.first().Channel != "telegram" {
		t.Fatalf("expected delivery to telegram, got %+v", sender.messages)
	}
}

func TestMessageToolFallsBackToToolDefault(t *testing.T) {
	b := bus.New(nil)
	sender := &recordingSender{}
	b.RegisterChannel("telegram", sender)
	tool := NewMessageTool(b, "telegram")

	args, _ := json.Marshal(map[string]interface{}{"chat_id": "1", "content": "hi"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
	startDraining(t, b, sender)
	if sender.count() != 1 || sender.first().Channel != "telegram" {
		t.Fatalf("expected delivery to telegram via default, got %+v", sender.messages)
	}
}

func TestMessageToolErrorsWhenNoChannelResolvable(t *testing.T) {
	b := bus.New(nil)
	tool := NewMessageTool(b, "")

	args, _ := json.Marshal(map[string]interface{}{"chat_id": "1", "content": "hi"})
	res := tool.Execute(context.Background(), ExecutionContext{}, string(args))
	if !res.IsError || res.Kind != ErrInvalidArguments {
		t.Fatalf("expected invalid_arguments, got %+v", res)
	}
}
