package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nextlevelbuilder/miniclaw/internal/merr"
	"github.com/nextlevelbuilder/miniclaw/internal/retry"
)

// mailboxCapacity bounds the inbound mailbox and the shared outbound mailbox.
// Sends beyond capacity drop the oldest queued message (spec §4.A, §8 S6).
const mailboxCapacity = 100

// MessageBus is the ChatHub: it decouples channel adapters from the agent
// loop with bounded, back-pressured mailboxes. A full mailbox drops its
// oldest entry rather than blocking the sender, trading history for
// liveness — channels must never stall waiting on the agent, and the agent
// must never stall waiting on a channel.
//
// Built against spec §4.A and §9's Bus<->Channel collaboration note: a
// bounded channel with drop-oldest eviction on every mailbox, the same
// back-pressure idiom used for per-key eviction elsewhere in this runtime.
type MessageBus struct {
	inbox  chan InboundMessage
	outbox chan OutboundMessage

	mu       sync.RWMutex
	channels map[string]ChannelSender

	onFailure FailureCallback
}

// New builds an empty MessageBus. Call RegisterChannel for every channel
// adapter before Run starts draining.
func New(onFailure FailureCallback) *MessageBus {
	return &MessageBus{
		inbox:     make(chan InboundMessage, mailboxCapacity),
		outbox:    make(chan OutboundMessage, mailboxCapacity),
		channels:  make(map[string]ChannelSender),
		onFailure: onFailure,
	}
}

// RegisterChannel attaches a channel's outbound sender under its tag,
// idempotently overwriting any prior registration for the same tag.
func (b *MessageBus) RegisterChannel(tag string, sender ChannelSender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[tag] = sender
}

// UnregisterChannel removes a channel's outbound sender, e.g. on shutdown
// or Start failure.
func (b *MessageBus) UnregisterChannel(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, tag)
}

// sanitizeContent trims, rejects empty, and truncates at MaxContentChars on
// a UTF-8 rune boundary (never mid-codepoint), logging once when it had to
// cut.
func sanitizeContent(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxContentChars {
		return s, s != ""
	}
	runes := []rune(s)
	truncated := string(runes[:MaxContentChars])
	slog.Warn("message content truncated", "original_runes", len(runes), "limit", MaxContentChars)
	return truncated, true
}

// PublishInbound enqueues msg for the agent. Content is sanitized first;
// an empty-after-trim message is dropped silently (nothing for the agent
// to act on). A full inbox drops its oldest queued message to make room,
// logging a WARN — this is the back-pressure valve spec §4.A and §8's S6
// scenario require.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	content, ok := sanitizeContent(msg.Content)
	if !ok {
		return
	}
	msg.Content = content

	for {
		select {
		case b.inbox <- msg:
			return
		default:
		}

		select {
		case dropped := <-b.inbox:
			slog.Warn("inbound mailbox full, dropping oldest message",
				"channel", dropped.Channel, "chat_id", dropped.ChatID)
		default:
			// Another goroutine drained concurrently; retry the send.
		}
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbox:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// TrySendOutbound enqueues msg onto the bounded outbound mailbox without
// ever blocking the caller: a full mailbox drops its oldest queued message
// to make room, the same back-pressure valve PublishInbound applies to the
// inbound side. This is the non-blocking path the tool registry's
// "message" tool uses (spec §4.A/§5: "the tool path where blocking is
// forbidden") — actual delivery, including retry/backoff, happens later on
// Run's concurrent drainer goroutine, off the caller's stack entirely.
func (b *MessageBus) TrySendOutbound(msg OutboundMessage) {
	content, ok := sanitizeContent(msg.Content)
	if !ok {
		return
	}
	msg.Content = content

	for {
		select {
		case b.outbox <- msg:
			return
		default:
		}

		select {
		case dropped := <-b.outbox:
			slog.Warn("outbound mailbox full, dropping oldest message",
				"channel", dropped.Channel, "chat_id", dropped.ChatID)
		default:
			// Another goroutine drained concurrently; retry the send.
		}
	}
}

// PublishOutbound sanitizes and routes msg to its destination channel,
// retrying transient delivery failures with internal/retry.BusOutbound's
// fixed backoff schedule before giving up and invoking the failure
// callback. This call does not block waiting on the channel adapter beyond
// the retry schedule itself — the channel's own Send is expected to be
// non-blocking per the ChannelSender contract.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) {
	content, ok := sanitizeContent(msg.Content)
	if !ok {
		return
	}
	msg.Content = content

	b.routeOutbound(ctx, msg)
}

func (b *MessageBus) routeOutbound(ctx context.Context, msg OutboundMessage) {
	b.mu.RLock()
	sender, found := b.channels[msg.Channel]
	b.mu.RUnlock()

	if !found {
		reason := fmt.Sprintf("no channel registered for %q", msg.Channel)
		slog.Warn("dropping outbound message: unknown channel", "channel", msg.Channel, "chat_id", msg.ChatID)
		b.fail(msg, reason)
		return
	}

	err := retry.Do(ctx, retry.BusOutbound, isRetryableDelivery, func(attempt int) error {
		return sender.Send(msg)
	})
	if err != nil {
		slog.Error("outbound delivery failed after retries", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		b.fail(msg, err.Error())
	}
}

func (b *MessageBus) fail(msg OutboundMessage, reason string) {
	if b.onFailure != nil {
		b.onFailure(msg, reason)
	}
}

func isRetryableDelivery(err error) bool {
	if err == nil {
		return false
	}
	var me *merr.Error
	if e, ok := err.(*merr.Error); ok {
		me = e
	}
	if me != nil {
		return me.Retryable
	}
	// An error of unknown shape from a channel adapter is assumed
	// transient (network blip) rather than permanent misconfiguration.
	return true
}

// Run drains the inbound mailbox to handler until ctx is cancelled,
// concurrently draining the outbound mailbox by routing each queued
// OutboundMessage (spec §4.A: "run must concurrently drain outbound by
// calling route_outbound"). It is the agent side's half of the
// Bus<->Agent collaboration: the Agent Loop owns this goroutine, the Bus
// owns both mailboxes.
func (b *MessageBus) Run(ctx context.Context, handler MessageHandler) {
	go b.DrainOutbound(ctx)

	for {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			return
		}
		handler(msg)
	}
}

// DrainOutbound routes every message enqueued via TrySendOutbound until ctx
// is cancelled. Run starts this on its own goroutine; it is exported
// separately so callers that want outbound delivery without the inbound
// drain loop (tests, for example) can start it on their own.
func (b *MessageBus) DrainOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.outbox:
			b.routeOutbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}
