// Package slack posts messages and alerts to a Slack incoming webhook.
package slack

import (
	"context"
	_ "embed"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "slack"

const (
	requestTimeout = 10 * time.Second

	defaultUsername     = "faneX-ID"
	defaultIconEmoji    = ":robot_face:"
	defaultChannel      = "#general"
	defaultAlertChannel = "#alerts"
	defaultAlertColor   = "warning"
)

//go:embed manifest.json
var manifestJSON []byte

func Factory() integration.Factory {
	return integration.Factory{
		Domain:   Domain,
		Manifest: manifestJSON,
		New:      func() integration.Integration { return New() },
	}
}

// Slack is the Slack webhook integration.
type Slack struct {
	logger         zerolog.Logger
	events         events.Emitter
	client         *restclient.Client
	webhookURL     string
	defaultChannel string

	now func() time.Time
}

func New() *Slack {
	return &Slack{logger: zerolog.Nop(), now: time.Now}
}

func (s *Slack) Domain() string { return Domain }

func (s *Slack) Setup(ctx context.Context, sc *integration.SetupContext) error {
	s.logger = sc.Logger
	s.events = sc.Events()
	s.logger.Info().Msg("Setting up Slack integration")

	s.webhookURL = sc.Config.String("webhook_url")
	if s.webhookURL == "" {
		return &services.ConfigError{Domain: Domain, Key: "webhook_url"}
	}
	s.defaultChannel = sc.Config.String("default_channel")
	s.client = restclient.New(restclient.Options{Service: Domain, Timeout: requestTimeout})

	if err := sc.Register("send_message", s.SendMessage, services.Schema{
		"channel":    {Type: services.TypeString},
		"message":    {Type: services.TypeString, Required: true},
		"username":   {Type: services.TypeString, Default: defaultUsername},
		"icon_emoji": {Type: services.TypeString, Default: defaultIconEmoji},
	}, "Send a message to Slack"); err != nil {
		return err
	}

	return sc.Register("send_alert", s.SendAlert, services.Schema{
		"channel": {Type: services.TypeString},
		"title":   {Type: services.TypeString, Default: "Alert"},
		"message": {Type: services.TypeString, Required: true},
		"color":   {Type: services.TypeString, Default: defaultAlertColor},
	}, "Send an alert to Slack")
}

func (s *Slack) channel(req services.Request, fallback string) string {
	if ch := req.String("channel"); ch != "" {
		return ch
	}
	if s.defaultChannel != "" {
		return s.defaultChannel
	}
	return fallback
}

// SendMessage posts a plain text message.
func (s *Slack) SendMessage(ctx context.Context, req services.Request) (services.Response, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return nil, err
	}
	channel := s.channel(req, defaultChannel)

	payload := map[string]any{
		"channel":    channel,
		"text":       message,
		"username":   req.StringOr("username", defaultUsername),
		"icon_emoji": req.StringOr("icon_emoji", defaultIconEmoji),
	}

	if _, err := s.client.Post(ctx, s.webhookURL, payload); err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("Failed to send Slack message")
		return nil, err
	}

	s.logger.Info().Str("channel", channel).Msg("Slack message sent")
	s.events.Emit("slack.message_sent", map[string]any{"channel": channel, "kind": "message"})
	return services.OK(map[string]any{"status": "sent", "channel": channel}), nil
}

// SendAlert posts a colored attachment.
func (s *Slack) SendAlert(ctx context.Context, req services.Request) (services.Response, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return nil, err
	}
	channel := s.channel(req, defaultAlertChannel)
	color := req.StringOr("color", defaultAlertColor)

	payload := map[string]any{
		"channel": channel,
		"attachments": []map[string]any{{
			"color":  color,
			"title":  req.StringOr("title", "Alert"),
			"text":   message,
			"footer": defaultUsername,
			"ts":     s.now().Unix(),
		}},
	}

	if _, err := s.client.Post(ctx, s.webhookURL, payload); err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("Failed to send Slack alert")
		return nil, err
	}

	s.logger.Info().Str("channel", channel).Msg("Slack alert sent")
	s.events.Emit("slack.message_sent", map[string]any{"channel": channel, "kind": "alert"})
	return services.OK(map[string]any{"status": "sent", "channel": channel, "color": color}), nil
}
