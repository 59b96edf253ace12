// Package telegram implements the concrete Telegram Channel (spec §1:
// "Telegram today, extensible") via long polling against the Bot API.
//
// No draft-streaming, status-reaction, forum-topic, or per-chat pairing
// state here — miniclaw replies once per turn with plain text, and the
// allow-list lives in internal/whitelist, not a per-channel pairing
// service.
package telegram

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/miniclaw/internal/bus"
	"github.com/nextlevelbuilder/miniclaw/internal/channels"
	"github.com/nextlevelbuilder/miniclaw/internal/whitelist"
)

// pollTimeout is the long-poll request timeout, matching Telegram's own
// recommended polling interval for low-latency delivery without busy-loop
// polling.
const pollTimeout = 30

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel for token, gated by wl. proxy is an
// optional HTTP/SOCKS proxy URL ("" disables it).
func New(token, proxy string, wl *whitelist.Checker) (*Channel, error) {
	var opts []telego.BotOption
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram proxy URL %q: %w", proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", wl),
		bot:         bot,
	}, nil
}

// Start begins long polling for Telegram updates and forwards each
// incoming text message to the Bus via BaseChannel.HandleMessage (spec §6
// Channel contract: "start(bus_handles) ... begins producing
// InboundMessage").
func (c *Channel) Start(ctx context.Context, b channels.ChannelBus) error {
	c.Attach(b)

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        pollTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	slog.Info("telegram channel connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message == nil {
					continue
				}
				if update.Message.Text == "" && len(update.Message.Photo) == 0 {
					continue
				}
				c.handleUpdate(pollCtx, update)
			}
		}
	}()

	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	var username string
	if msg.From != nil {
		username = msg.From.Username
	}

	metadata := map[string]string{
		"username":   username,
		"message_id": fmt.Sprintf("%d", msg.MessageID),
	}

	content := msg.Text
	if len(msg.Photo) > 0 {
		if path, err := c.downloadAndDownscalePhoto(ctx, msg.Photo); err != nil {
			slog.Warn("telegram photo download failed", "error", err)
		} else {
			metadata["image_path"] = path
		}
		if content == "" {
			content = msg.Caption
		}
		if content == "" {
			content = "[photo]"
		}
	}

	c.HandleMessage(userID, fmt.Sprintf("%d", msg.Chat.ID), content, metadata)
}

// maxPhotoDimension bounds the longest edge of a downloaded Telegram photo
// after downscaling, keeping attachments handed to tools (and eventually
// the LLM provider) small regardless of the original upload size.
const maxPhotoDimension = 1024

// downloadAndDownscalePhoto fetches the highest-resolution size Telegram
// offers for msg.Photo, downscales it with disintegration/imaging if it
// exceeds maxPhotoDimension on its longest edge, and saves it to a temp
// file under the OS temp directory, returning its path.
func (c *Channel) downloadAndDownscalePhoto(ctx context.Context, sizes []telego.PhotoSize) (string, error) {
	largest := sizes[len(sizes)-1]

	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: largest.FileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("decode photo: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxPhotoDimension || bounds.Dy() > maxPhotoDimension {
		if bounds.Dx() >= bounds.Dy() {
			img = imaging.Resize(img, maxPhotoDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxPhotoDimension, imaging.Lanczos)
		}
	}

	out, err := os.CreateTemp("", "miniclaw-telegram-photo-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer out.Close()

	if err := imaging.Encode(out, img, imaging.JPEG); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("encode photo: %w", err)
	}
	return out.Name(), nil
}

// Send delivers an outbound message to its Telegram chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit so
// Telegram releases the getUpdates lock before a future instance starts.
func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}
