// Package homeassistant calls services and reads entity state on a Home
// Assistant instance.
package homeassistant

import (
	"context"
	_ "embed"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "homeassistant"

const requestTimeout = 10 * time.Second

//go:embed manifest.json
var manifestJSON []byte

func Factory() integration.Factory {
	return integration.Factory{
		Domain:   Domain,
		Manifest: manifestJSON,
		New:      func() integration.Integration { return New() },
	}
}

// HomeAssistant is the Home Assistant integration.
type HomeAssistant struct {
	logger zerolog.Logger
	client *restclient.Client
}

func New() *HomeAssistant {
	return &HomeAssistant{logger: zerolog.Nop()}
}

func (h *HomeAssistant) Domain() string { return Domain }

func (h *HomeAssistant) Setup(ctx context.Context, sc *integration.SetupContext) error {
	h.logger = sc.Logger
	h.logger.Info().Msg("Setting up Home Assistant integration")

	baseURL := strings.TrimRight(sc.Config.String("base_url"), "/")
	if baseURL == "" {
		return &services.ConfigError{Domain: Domain, Key: "base_url"}
	}
	token := sc.Config.String("access_token")
	if token == "" {
		return &services.ConfigError{Domain: Domain, Key: "access_token"}
	}

	h.client = restclient.New(restclient.Options{
		Service:            Domain,
		BaseURL:            baseURL + "/api",
		Auth:               restclient.BearerToken(token),
		Timeout:            requestTimeout,
		InsecureSkipVerify: !sc.Config.BoolOr("verify_ssl", true),
	})

	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"call_service", h.CallService, services.Schema{
			"domain":       {Type: services.TypeString, Required: true},
			"service":      {Type: services.TypeString, Required: true},
			"entity_id":    {Type: services.TypeString},
			"service_data": {Type: services.TypeObject, Nullable: true},
		}, "Call a Home Assistant service"},
		{"get_state", h.GetState, services.Schema{
			"entity_id": {Type: services.TypeString, Required: true},
		}, "Get the state of a Home Assistant entity"},
		{"get_states", h.GetStates, services.Schema{
			"domain":    {Type: services.TypeString, Nullable: true},
			"entity_id": {Type: services.TypeString, Nullable: true},
		}, "Get states of all or filtered Home Assistant entities"},
		{"fire_event", h.FireEvent, services.Schema{
			"event_type": {Type: services.TypeString, Required: true},
			"event_data": {Type: services.TypeObject, Nullable: true},
		}, "Fire a custom event in Home Assistant"},
		{"test_connection", h.TestConnection, services.Schema{},
			"Test connection to Home Assistant instance"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

// Health probes the API root.
func (h *HomeAssistant) Health(ctx context.Context) error {
	_, err := h.client.Get(ctx, "/", nil)
	return err
}

// CallService posts entity_id merged with service_data to /api/services/{domain}/{service}.
func (h *HomeAssistant) CallService(ctx context.Context, req services.Request) (services.Response, error) {
	domain := req.String("domain")
	service := req.String("service")
	if domain == "" || service == "" {
		return nil, services.MissingFields("domain", "service")
	}

	payload := map[string]any{}
	if entityID := req.String("entity_id"); entityID != "" {
		payload["entity_id"] = entityID
	}
	for k, v := range req.Map("service_data") {
		payload[k] = v
	}

	resp, err := h.client.Post(ctx, "/services/"+url.PathEscape(domain)+"/"+url.PathEscape(service), payload)
	if err != nil {
		h.logger.Error().Err(err).Str("service", domain+"."+service).Msg("Failed to call Home Assistant service")
		return nil, err
	}
	return services.OK(map[string]any{"data": resp.JSON()}), nil
}

func (h *HomeAssistant) GetState(ctx context.Context, req services.Request) (services.Response, error) {
	entityID, err := req.RequireString("entity_id")
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Get(ctx, "/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		h.logger.Error().Err(err).Str("entity_id", entityID).Msg("Failed to get Home Assistant state")
		return nil, err
	}
	return services.OK(map[string]any{"data": resp.JSON()}), nil
}

// GetStates lists all states, optionally narrowed by entity domain prefix
// and a case-insensitive entity_id substring. Filtering happens client-side.
func (h *HomeAssistant) GetStates(ctx context.Context, req services.Request) (services.Response, error) {
	resp, err := h.client.Get(ctx, "/states", nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get Home Assistant states")
		return nil, err
	}

	var states []map[string]any
	if err := resp.Decode(&states); err != nil {
		return nil, err
	}

	states = filterStates(states, req.String("domain"), req.String("entity_id"))
	return services.OK(map[string]any{"data": states, "count": len(states)}), nil
}

func filterStates(states []map[string]any, domain, pattern string) []map[string]any {
	pattern = strings.ToLower(pattern)
	filtered := make([]map[string]any, 0, len(states))
	for _, s := range states {
		id, _ := s["entity_id"].(string)
		if domain != "" && !strings.HasPrefix(id, domain+".") {
			continue
		}
		if pattern != "" && !strings.Contains(strings.ToLower(id), pattern) {
			continue
		}
		filtered = append(filtered, s)
	}
	return filtered
}

func (h *HomeAssistant) FireEvent(ctx context.Context, req services.Request) (services.Response, error) {
	eventType, err := req.RequireString("event_type")
	if err != nil {
		return nil, err
	}

	data := req.Map("event_data")
	if data == nil {
		data = services.Values{}
	}

	if _, err := h.client.Post(ctx, "/events/"+url.PathEscape(eventType), data); err != nil {
		h.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to fire Home Assistant event")
		return nil, err
	}
	return services.OK(map[string]any{"message": "Event fired successfully"}), nil
}

func (h *HomeAssistant) TestConnection(ctx context.Context, req services.Request) (services.Response, error) {
	resp, err := h.client.Get(ctx, "/", nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to connect to Home Assistant")
		return nil, err
	}
	return services.OK(map[string]any{
		"message":       "Connection successful",
		"version":       nilIfEmpty(resp.Get("version").String()),
		"location_name": nilIfEmpty(resp.Get("location_name").String()),
	}), nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
