package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
)

// MessageTool implements spec §4.E's "message" built-in: chat_id, content,
// channel?. Resolves the destination channel from args, falling back to
// the calling turn's ExecutionContext.Channel, then to defaultChannel —
// "channel from args > context > tool default" per the contract — and
// enqueues via the Bus's non-blocking outbound path rather than calling a
// channel adapter directly.
//
// Built on internal/bus.MessageBus.TrySendOutbound, so a mid-turn tool call
// can push a message out-of-band from the eventual turn reply without ever
// blocking the tool-call goroutine on channel delivery.
type MessageTool struct {
	bus            *bus.MessageBus
	defaultChannel string
}

// NewMessageTool returns a message tool that publishes through b,
// defaulting to defaultChannel when neither the call args nor the
// execution context name one.
func NewMessageTool(b *bus.MessageBus, defaultChannel string) *MessageTool {
	return &MessageTool{bus: b, defaultChannel: defaultChannel}
}

func (t *MessageTool) Name() string        { return "message" }
func (t *MessageTool) Description() string { return "Send a message to a chat on the current or a named channel" }
func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"chat_id": map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
			"channel": map[string]interface{}{"type": "string"},
		},
		"required": []string{"chat_id", "content"},
	}
}

func (t *MessageTool) Execute(_ context.Context, execCtx ExecutionContext, argsJSON string) *Result {
	args, err := DecodeArgs(argsJSON)
	if err != nil {
		return KindResult(ErrInvalidArguments, err.Error())
	}

	chatID, _ := args["chat_id"].(string)
	content, _ := args["content"].(string)
	if chatID == "" || content == "" {
		return KindResult(ErrInvalidArguments, "chat_id and content are required")
	}

	channel, _ := args["channel"].(string)
	if channel == "" {
		channel = execCtx.Channel
	}
	if channel == "" {
		channel = t.defaultChannel
	}
	if channel == "" {
		return KindResult(ErrInvalidArguments, "no channel resolved from args, context, or default")
	}

	t.bus.TrySendOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
	return SilentResult(fmt.Sprintf("sent message to %s on %s", chatID, channel))
}
