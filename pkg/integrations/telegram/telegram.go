// Package telegram sends messages through a Telegram bot and, optionally,
// streams incoming messages onto the event bus.
package telegram

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/clientcache"
	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "telegram"

const (
	interpreterDomain  = "bot_interpreter"
	interpreterService = "register_bot"

	requestTimeout     = 30 * time.Second
	defaultPollTimeout = 30 * time.Second
)

// ErrInterpreterUnavailable is returned when no bot interpreter is registered.
var ErrInterpreterUnavailable = errors.New("Bot Interpreter not available")

//go:embed manifest.json
var manifestJSON []byte

func Factory() integration.Factory {
	return integration.Factory{
		Domain:   Domain,
		Manifest: manifestJSON,
		New:      func() integration.Integration { return New() },
	}
}

// Telegram is the Telegram bot integration.
type Telegram struct {
	logger   zerolog.Logger
	events   events.Emitter
	registry *services.Registry

	bots  *clientcache.Cache[*Bot]
	bot   *Bot
	token string
}

func New() *Telegram {
	return &Telegram{
		logger: zerolog.Nop(),
		bots:   clientcache.New[*Bot](),
	}
}

func (t *Telegram) Domain() string { return Domain }

func (t *Telegram) Setup(ctx context.Context, sc *integration.SetupContext) error {
	t.logger = sc.Logger
	t.events = sc.Events()
	t.registry = sc.Registry()
	t.logger.Info().Msg("Setting up Telegram integration")

	t.token = sc.Config.String("bot_token")
	if t.token == "" {
		return &services.ConfigError{Domain: Domain, Key: "bot_token"}
	}
	endpoint := apiEndpoint(sc.Config.String("api_endpoint"))
	pollTimeout := time.Duration(sc.Config.IntOr("poll_timeout", int(defaultPollTimeout/time.Second))) * time.Second

	bot, err := t.bots.Get(ctx, t.token+"|"+endpoint, func(ctx context.Context) (*Bot, error) {
		// The client timeout must outlast a long poll.
		client := &http.Client{Timeout: pollTimeout + requestTimeout}
		return newBot(ctx, t.token, endpoint, client, t.logger)
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to set up Telegram bot")
		return &services.UpstreamError{Service: Domain, Err: err}
	}
	t.bot = bot

	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"send_message", t.SendMessage, services.Schema{
			"chat_id":             {Type: services.TypeString, Required: true},
			"message":             {Type: services.TypeString, Required: true},
			"parse_mode":          {Type: services.TypeString, Enum: []any{"HTML", "Markdown", "MarkdownV2"}, Nullable: true},
			"reply_to_message_id": {Type: services.TypeInteger, Nullable: true},
		}, "Send a message through Telegram"},
		{"get_bot_status", t.GetBotStatus, services.Schema{
			"bot_id": {Type: services.TypeString, Nullable: true},
		}, "Get the status of the Telegram bot"},
		{"register_with_interpreter", t.RegisterWithInterpreter, services.Schema{
			"bot_id": {Type: services.TypeString, Required: true},
		}, "Register this bot with the Bot Interpreter system component"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}

	if register, ok := sc.Lookup(interpreterDomain, interpreterService); ok {
		resp, err := register(ctx, t.interpreterRequest(fmt.Sprintf("telegram_%d", bot.ID())))
		switch {
		case err != nil:
			t.logger.Warn().Err(err).Msg("Failed to auto-register with Bot Interpreter")
		case rejected(resp):
			t.logger.Warn().Str("error", resp.ErrorMessage()).Msg("Failed to auto-register with Bot Interpreter")
		default:
			t.logger.Info().Msg("Bot registered with Bot Interpreter")
		}
	}

	if sc.Config.BoolOr("poll_updates", false) {
		sc.Go("poll", func(ctx context.Context) error {
			return bot.Poll(ctx, pollTimeout, t.events)
		})
	}
	return nil
}

// Shutdown drops the cached bot handles.
func (t *Telegram) Shutdown(ctx context.Context) error {
	t.bots.Purge()
	t.bot = nil
	return nil
}

// Health probes getMe.
func (t *Telegram) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.New("bot not initialized")
	}
	_, err := t.bot.GetMe(ctx)
	return err
}

// SendMessage sends a text message to a chat or channel.
func (t *Telegram) SendMessage(ctx context.Context, req services.Request) (services.Response, error) {
	chatID := req.String("chat_id")
	message := req.String("message")
	if chatID == "" || message == "" {
		return nil, services.MissingFields("chat_id", "message")
	}
	replyTo := 0
	if req.Has("reply_to_message_id") {
		n, err := req.Int("reply_to_message_id")
		if err != nil {
			return nil, err
		}
		replyTo = n
	}

	sent, err := t.bot.SendMessage(ctx, chatID, message, req.String("parse_mode"), replyTo)
	if err != nil {
		t.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to send Telegram message")
		return nil, &services.UpstreamError{Service: Domain, Err: err}
	}

	t.events.Emit("telegram.message_sent", map[string]any{
		"chat_id":    chatID,
		"message_id": sent.MessageID,
	})

	var sentChat any = chatID
	if sent.Chat != nil {
		sentChat = sent.Chat.ID
	}
	return services.OK(map[string]any{
		"message_id": sent.MessageID,
		"chat_id":    sentChat,
	}), nil
}

// GetBotStatus reports the bot's identity as currently seen by the Bot API.
func (t *Telegram) GetBotStatus(ctx context.Context, req services.Request) (services.Response, error) {
	me, err := t.bot.GetMe(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to get bot status")
		return nil, &services.UpstreamError{Service: Domain, Err: err}
	}
	return services.OK(map[string]any{
		"bot_id":     me.ID,
		"username":   me.UserName,
		"first_name": me.FirstName,
		"is_bot":     me.IsBot,
		"status":     "active",
	}), nil
}

// RegisterWithInterpreter forwards this bot's registration to the bot
// interpreter and returns its response unchanged.
func (t *Telegram) RegisterWithInterpreter(ctx context.Context, req services.Request) (services.Response, error) {
	botID, err := req.RequireString("bot_id")
	if err != nil {
		return nil, err
	}

	register, ok := t.registry.Get(interpreterDomain, interpreterService)
	if !ok {
		return nil, ErrInterpreterUnavailable
	}

	resp, err := register(ctx, t.interpreterRequest(botID))
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to register with Bot Interpreter")
		return nil, err
	}
	return resp, nil
}

func (t *Telegram) interpreterRequest(botID string) services.Request {
	return services.Request{
		"bot_id":             botID,
		"bot_type":           "telegram",
		"integration_domain": Domain,
		"config":             map[string]any{"bot_token": t.token},
	}
}

// apiEndpoint turns a base URL such as "http://localhost:8081" into the Bot
// API's Sprintf form. Values that already contain verbs pass through.
func apiEndpoint(base string) string {
	if base == "" || strings.Contains(base, "%s") {
		return base
	}
	return strings.TrimRight(base, "/") + "/bot%s/%s"
}

// rejected reports an explicit failure envelope.
func rejected(resp services.Response) bool {
	_, has := resp["success"]
	return has && !resp.Success()
}
