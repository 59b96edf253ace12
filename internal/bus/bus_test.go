package bus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu  sync.Mutex
	got []OutboundMessage
	err error
}

func (f *fakeSender) Send(msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSender) messages() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundMessage, len(f.got))
	copy(out, f.got)
	return out
}

func TestPublishInboundDropsEmptyAfterTrim(t *testing.T) {
	b := New(nil)
	b.PublishInbound(InboundMessage{Channel: "telegram", Content: "   "})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Fatal("expected no message to be enqueued for blank content")
	}
}

func TestPublishInboundTruncatesOnRuneBoundary(t *testing.T) {
	b := New(nil)
	long := strings.Repeat("é", MaxContentChars+10)
	b.PublishInbound(InboundMessage{Channel: "telegram", Content: long})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if n := len([]rune(msg.Content)); n != MaxContentChars {
		t.Fatalf("got %d runes, want %d", n, MaxContentChars)
	}
}

func TestPublishInboundDropsOldestWhenFull(t *testing.T) {
	b := New(nil)
	for i := 0; i < mailboxCapacity+5; i++ {
		b.PublishInbound(InboundMessage{Channel: "telegram", ChatID: "c", Content: "hello"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	count := 0
	for {
		if _, ok := b.ConsumeInbound(ctx); !ok {
			break
		}
		count++
		if count > mailboxCapacity {
			t.Fatalf("drained more than capacity: %d", count)
		}
	}
	if count != mailboxCapacity {
		t.Fatalf("got %d queued messages, want %d (oldest should have been dropped)", count, mailboxCapacity)
	}
}

func TestPublishOutboundRoutesToRegisteredChannel(t *testing.T) {
	b := New(nil)
	sender := &fakeSender{}
	b.RegisterChannel("telegram", sender)

	b.PublishOutbound(context.Background(), OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})

	got := sender.messages()
	if len(got) != 1 || got[0].ChatID != "42" {
		t.Fatalf("got %+v, want one message to chat 42", got)
	}
}

func TestPublishOutboundUnknownChannelInvokesFailureCallback(t *testing.T) {
	var reason string
	var mu sync.Mutex
	b := New(func(msg OutboundMessage, r string) {
		mu.Lock()
		defer mu.Unlock()
		reason = r
	})

	b.PublishOutbound(context.Background(), OutboundMessage{Channel: "discord", ChatID: "1", Content: "hi"})

	mu.Lock()
	defer mu.Unlock()
	if reason == "" {
		t.Fatal("expected failure callback to run for unregistered channel")
	}
}

func TestPublishOutboundRetriesThenFails(t *testing.T) {
	sender := &fakeSender{err: errBoom{}}
	var calledReason string
	b := New(func(msg OutboundMessage, r string) { calledReason = r })
	b.RegisterChannel("telegram", sender)

	start := time.Now()
	b.PublishOutbound(context.Background(), OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})
	elapsed := time.Since(start)

	if calledReason == "" {
		t.Fatal("expected failure callback after retry exhaustion")
	}
	// 100+200+400ms schedule between the 4 attempts.
	if elapsed < 700*time.Millisecond {
		t.Fatalf("retries completed too fast: %v", elapsed)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestRunDrainsInboundToHandler(t *testing.T) {
	b := New(nil)
	received := make(chan InboundMessage, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx, func(msg InboundMessage) { received <- msg })

	b.PublishInbound(InboundMessage{Channel: "telegram", ChatID: "1", Content: "hello"})

	select {
	case msg := <-received:
		if msg.Content != "hello" {
			t.Fatalf("got %q, want hello", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never received message")
	}
}
