// Package bus implements the Message Bus (ChatHub): bounded, back-pressured
// inbound/outbound mailboxes decoupling channel adapters from the agent.
//
// InboundMessage/OutboundMessage carry exactly the attributes a
// single-agent, single-workspace daemon needs — no multi-tenant routing
// fields, no WebSocket broadcast events.
package bus

import "time"

// MaxContentChars is the maximum number of UTF-8 codepoints a sanitized
// InboundMessage/OutboundMessage content may carry (spec §3).
const MaxContentChars = 4000

// InboundMessage is one user utterance entering the system.
type InboundMessage struct {
	Channel   string            // source adapter tag, e.g. "telegram"
	ChatID    string            // opaque per-channel conversation key
	UserID    int64             // platform user id, used by the whitelist checker
	Content   string            // UTF-8 text
	Metadata  map[string]string // optional username/etc, string-keyed map
	Timestamp time.Time         // UTC
}

// OutboundMessage is one reply being dispatched to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string // opaque message id for threading, optional
}

// MessageHandler consumes an InboundMessage routed to the agent.
type MessageHandler func(InboundMessage)

// ChannelSender is the capability object a registered channel exposes to
// the Bus: the Bus's outbound routing calls Send once per attempt and
// waits for it to return (drop-oldest buffering happens earlier, in the
// Bus's own outbound mailbox, not in Send). This
// breaks the cyclic Bus<->Channel collaboration (§9 design notes): channels
// never hold the full Bus, only the reverse PublishInbound path the Bus
// itself exposes to them.
type ChannelSender interface {
	Send(OutboundMessage) error
}

// FailureCallback is invoked when routing an outbound message permanently
// fails (no registered channel, or retry exhaustion).
type FailureCallback func(msg OutboundMessage, reason string)
