package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
)

// Bot wraps an authenticated Bot API handle.
type Bot struct {
	api    *tgbotapi.BotAPI
	client *http.Client
	logger zerolog.Logger
}

// contextClient binds every Bot API request to ctx so a blocked long poll
// returns as soon as the loop is cancelled.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// newBot authenticates with getMe. endpoint uses the Sprintf form
// "https://host/bot%s/%s"; empty selects the public API.
func newBot(ctx context.Context, token, endpoint string, client *http.Client, logger zerolog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, contextClient{ctx: ctx, client: client})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	// Later calls must not be tied to the setup context.
	api.Client = client

	bot := &Bot{api: api, client: client, logger: logger}
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")
	return bot, nil
}

// ID returns the bot's user id.
func (b *Bot) ID() int64 {
	return b.api.Self.ID
}

// Self returns the user recorded at authentication.
func (b *Bot) Self() tgbotapi.User {
	return b.api.Self
}

// GetMe asks the Bot API for the bot's current identity.
func (b *Bot) GetMe(ctx context.Context) (tgbotapi.User, error) {
	return b.withContext(ctx).GetMe()
}

// SendMessage sends text to chatID, which is either a numeric chat id or a
// channel username such as "@alerts".
func (b *Bot) SendMessage(ctx context.Context, chatID, text, parseMode string, replyTo int) (tgbotapi.Message, error) {
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(chatID, text)
	}
	msg.ParseMode = parseMode
	msg.ReplyToMessageID = replyTo

	sent, err := b.withContext(ctx).Send(msg)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.Debug().
		Str("chat_id", chatID).
		Int("message_id", sent.MessageID).
		Msg("Message sent")
	return sent, nil
}

// Poll long-polls getUpdates until ctx is cancelled, emitting one
// telegram.message_received event per incoming message. Any API error ends
// the loop so the supervisor can restart it with backoff.
func (b *Bot) Poll(ctx context.Context, timeout time.Duration, emitter events.Emitter) error {
	api := b.withContext(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(timeout.Seconds())

	b.logger.Info().Msg("Polling Telegram updates")
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := api.GetUpdates(u)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to get updates: %w", err)
		}

		for _, update := range updates {
			if update.UpdateID >= u.Offset {
				u.Offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			emitter.Emit("telegram.message_received", messageEvent(update.Message))
		}
	}
}

// withContext returns a shallow copy of the API handle whose requests carry ctx.
func (b *Bot) withContext(ctx context.Context) *tgbotapi.BotAPI {
	api := *b.api
	api.Client = contextClient{ctx: ctx, client: b.client}
	return &api
}

func messageEvent(msg *tgbotapi.Message) map[string]any {
	data := map[string]any{
		"message_id": msg.MessageID,
		"text":       msg.Text,
		"date":       msg.Date,
	}
	if msg.Chat != nil {
		data["chat_id"] = msg.Chat.ID
		data["chat_type"] = msg.Chat.Type
	}
	if msg.From != nil {
		data["user_id"] = msg.From.ID
		data["username"] = msg.From.UserName
	}
	if msg.IsCommand() {
		data["command"] = msg.Command()
		data["args"] = strings.Fields(msg.CommandArguments())
	}
	if hasMedia(msg) {
		data["has_media"] = true
	}
	return data
}

func hasMedia(msg *tgbotapi.Message) bool {
	return msg.Photo != nil ||
		msg.Video != nil ||
		msg.Audio != nil ||
		msg.Document != nil ||
		msg.Voice != nil
}
