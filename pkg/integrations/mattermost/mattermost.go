// Package mattermost talks to the Mattermost REST API v4.
package mattermost

import (
	"context"
	_ "embed"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "mattermost"

const requestTimeout = 30 * time.Second

//go:embed manifest.json
var manifestJSON []byte

func Factory() integration.Factory {
	return integration.Factory{
		Domain:   Domain,
		Manifest: manifestJSON,
		New:      func() integration.Integration { return New() },
	}
}

// Mattermost is the Mattermost integration.
type Mattermost struct {
	logger        zerolog.Logger
	events        events.Emitter
	client        *restclient.Client
	defaultTeamID string
}

func New() *Mattermost {
	return &Mattermost{logger: zerolog.Nop()}
}

func (m *Mattermost) Domain() string { return Domain }

func (m *Mattermost) Setup(ctx context.Context, sc *integration.SetupContext) error {
	m.logger = sc.Logger
	m.events = sc.Events()
	m.logger.Info().Msg("Setting up Mattermost integration")

	serverURL := sc.Config.String("server_url")
	if serverURL == "" {
		return &services.ConfigError{Domain: Domain, Key: "server_url"}
	}
	token := sc.Config.String("api_token")
	if token == "" {
		return &services.ConfigError{Domain: Domain, Key: "api_token"}
	}
	m.defaultTeamID = sc.Config.String("default_team_id")

	m.client = restclient.New(restclient.Options{
		Service: Domain,
		BaseURL: serverURL,
		Auth:    restclient.BearerToken(token),
		Timeout: requestTimeout,
	})

	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"send_message", m.SendMessage, services.Schema{
			"channel_id": {Type: services.TypeString, Required: true},
			"message":    {Type: services.TypeString, Required: true},
		}, "Send a message to a channel"},
		{"create_channel", m.CreateChannel, services.Schema{
			"name":         {Type: services.TypeString, Required: true},
			"display_name": {Type: services.TypeString},
			"type":         {Type: services.TypeString, Enum: []any{"O", "P"}, Default: "P"},
			"team_id":      {Type: services.TypeString},
		}, "Create a channel"},
		{"get_user", m.GetUser, services.Schema{
			"user_id": {Type: services.TypeString, Required: true},
		}, "Get user information"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

// SendMessage creates a post in a channel.
func (m *Mattermost) SendMessage(ctx context.Context, req services.Request) (services.Response, error) {
	channelID := req.String("channel_id")
	message := req.String("message")
	if channelID == "" || message == "" {
		return nil, services.MissingFields("channel_id", "message")
	}

	resp, err := m.client.Post(ctx, "/api/v4/posts", map[string]any{
		"channel_id": channelID,
		"message":    message,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("channel_id", channelID).Msg("Failed to send Mattermost message")
		return nil, err
	}

	postID := resp.Get("id").String()
	m.logger.Info().Str("channel_id", channelID).Msg("Mattermost message sent")
	m.events.Emit("mattermost.message_sent", map[string]any{"channel_id": channelID, "post_id": postID})
	return services.OK(map[string]any{"post_id": postID}), nil
}

// CreateChannel creates a public ("O") or private ("P") channel.
func (m *Mattermost) CreateChannel(ctx context.Context, req services.Request) (services.Response, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"name":         name,
		"display_name": req.StringOr("display_name", name),
		"type":         req.StringOr("type", "P"),
	}
	if teamID := req.StringOr("team_id", m.defaultTeamID); teamID != "" {
		body["team_id"] = teamID
	}

	resp, err := m.client.Post(ctx, "/api/v4/channels", body)
	if err != nil {
		m.logger.Error().Err(err).Str("name", name).Msg("Failed to create Mattermost channel")
		return nil, err
	}

	m.logger.Info().Str("name", name).Msg("Mattermost channel created")
	return services.OK(map[string]any{"channel_id": resp.Get("id").String()}), nil
}

// GetUser returns the raw user object.
func (m *Mattermost) GetUser(ctx context.Context, req services.Request) (services.Response, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Get(ctx, "/api/v4/users/"+url.PathEscape(userID), nil)
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to get Mattermost user")
		return nil, err
	}
	return services.OK(map[string]any{"user": resp.JSON()}), nil
}
