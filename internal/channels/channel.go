// Package channels provides the Channel capability (spec §6): the adapter
// boundary between an external messaging platform and the Message Bus, plus
// the shared allow-list and per-user rate-limiting every concrete channel
// needs before a message ever reaches the bounded inbound mailbox.
//
// BaseChannel/Channel split and a HandleMessage entry point; no DM/Group
// pairing policy machinery, mention gating, or multi-agent routing — this
// is a single-agent daemon (spec §1). Sender identity is a platform int64
// user id matching spec §6's whitelist.
package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
	"github.com/nextlevelbuilder/miniclaw/internal/whitelist"
)

// ChannelBus is the capability a channel needs from the Bus: only the
// inbound publish path. This breaks the cyclic Bus<->Channel collaboration
// (spec §9 design notes: "channels never get the full Bus") — a channel
// can enqueue inbound traffic but can never reach into the Bus's routing
// table or other channels' mailboxes.
type ChannelBus interface {
	PublishInbound(bus.InboundMessage)
}

// Channel is the external capability the Gateway composes into the runtime
// (spec §6's "Channel: two async operations start/send"). Stop is an
// addition beyond the two spec names so the Lifecycle Coordinator has a
// symmetric teardown hook per channel during graceful shutdown (spec
// §4.F step 1: "channels observe the signal and close their producers").
type Channel interface {
	Name() string
	Start(ctx context.Context, b ChannelBus) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Stop(ctx context.Context) error
}

// SenderAdapter adapts a Channel's context-taking Send to the
// bus.ChannelSender capability the MessageBus registry expects
// (Send(OutboundMessage) error, no context) — the Bus's retry loop is not
// itself request-scoped, so the adapter calls Send with a background
// context.
type SenderAdapter struct{ Channel Channel }

func (a SenderAdapter) Send(msg bus.OutboundMessage) error {
	return a.Channel.Send(context.Background(), msg)
}

// rateLimitPerMinute and rateLimitBurst bound how many inbound messages one
// user id may push into the Bus per minute, hardening the bounded-mailbox
// back-pressure model (spec §5) against a single noisy allow-listed user
// crowding out others (SPEC_FULL §12 "Per-user rate limiting").
const (
	rateLimitPerMinute = 20
	rateLimitBurst     = 5
)

// BaseChannel holds the allow-list check, per-user rate limiting, and bus
// wiring shared by every concrete channel implementation. Concrete channels
// embed it and call HandleMessage for each inbound platform event.
type BaseChannel struct {
	name      string
	bus       ChannelBus
	whitelist *whitelist.Checker

	limitersMu sync.Mutex
	limiters   map[int64]*rate.Limiter
}

// NewBaseChannel returns a BaseChannel gated by wl (see internal/whitelist).
// bus is attached later via Start, since construction and wiring happen at
// different points in the Gateway's bootstrap sequence (spec §4.F step 6
// constructs channels before step 7 calls Start).
func NewBaseChannel(name string, wl *whitelist.Checker) *BaseChannel {
	return &BaseChannel{
		name:      name,
		whitelist: wl,
		limiters:  make(map[int64]*rate.Limiter),
	}
}

// Name returns the channel's registration tag.
func (c *BaseChannel) Name() string { return c.name }

// Attach wires the channel's inbound publish path, called from the
// concrete channel's Start.
func (c *BaseChannel) Attach(b ChannelBus) { c.bus = b }

func (c *BaseChannel) limiterFor(userID int64) *rate.Limiter {
	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()

	l, ok := c.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/rateLimitPerMinute), rateLimitBurst)
		c.limiters[userID] = l
	}
	return l
}

// HandleMessage is the standard entry point a concrete channel calls for
// every inbound platform event. It applies the allow-list (spec §6:
// rejected messages are "dropped silently with a DEBUG log; no reply is
// produced") and the per-user rate limiter before publishing to the bus.
func (c *BaseChannel) HandleMessage(userID int64, chatID, content string, metadata map[string]string) {
	if c.whitelist != nil && !c.whitelist.Allow(userID) {
		slog.Debug("message from non-whitelisted user dropped", "channel", c.name, "user_id", userID)
		return
	}
	if !c.limiterFor(userID).Allow() {
		slog.Debug("message dropped: per-user rate limit exceeded", "channel", c.name, "user_id", userID)
		return
	}
	if c.bus == nil {
		slog.Warn("channel not attached to bus, dropping message", "channel", c.name)
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		ChatID:    chatID,
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
}
