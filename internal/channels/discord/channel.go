// Package discord implements a second concrete Channel (SPEC_FULL §12),
// demonstrating spec §1's "Telegram today, extensible" claim with a
// genuinely runnable second adapter sharing channels.BaseChannel.
//
// Authored against discordgo's documented session/event API, following
// the same Start/Send/Stop shape the Telegram channel uses.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
	"github.com/nextlevelbuilder/miniclaw/internal/channels"
	"github.com/nextlevelbuilder/miniclaw/internal/whitelist"
)

// Channel connects to Discord via a persistent gateway session (discordgo
// manages the websocket and heartbeat internally).
type Channel struct {
	*channels.BaseChannel
	session *discordgo.Session
}

// New creates a Discord channel for botToken, gated by wl.
func New(botToken string, wl *whitelist.Checker) (*Channel, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", wl),
		session:     session,
	}, nil
}

// Start opens the gateway connection and registers the message-create
// handler that forwards text messages to the Bus.
func (c *Channel) Start(ctx context.Context, b channels.ChannelBus) error {
	c.Attach(b)

	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if m.Content == "" {
			return
		}
		userID, err := discordUserIDAsInt64(m.Author.ID)
		if err != nil {
			slog.Debug("discord message from non-numeric author id dropped", "author_id", m.Author.ID)
			return
		}
		c.HandleMessage(userID, m.ChannelID, m.Content, map[string]string{
			"username":   m.Author.Username,
			"message_id": m.ID,
		})
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway session: %w", err)
	}
	slog.Info("discord channel connected", "username", c.session.State.User.Username)

	go func() {
		<-ctx.Done()
		if err := c.session.Close(); err != nil {
			slog.Warn("error closing discord session on shutdown", "error", err)
		}
	}()

	return nil
}

// Send delivers an outbound message to its Discord channel/DM id.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if _, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Stop closes the gateway session.
func (c *Channel) Stop(_ context.Context) error {
	return c.session.Close()
}

func discordUserIDAsInt64(id string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(id, "%d", &v)
	return v, err
}
