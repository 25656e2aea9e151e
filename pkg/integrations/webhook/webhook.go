// Package webhook sends HTTP requests to arbitrary endpoints.
package webhook

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

// Domain is the registry namespace of this integration.
const Domain = "webhook"

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 500
)

//go:embed manifest.json
var manifestJSON []byte

// ErrNoURL is returned when neither the request nor the config supplies a URL.
var ErrNoURL = errors.New("webhook URL not provided and no default_url configured")

// Factory returns the plugin factory.
func Factory() integration.Factory {
	return integration.Factory{
		Domain:   Domain,
		Manifest: manifestJSON,
		New:      func() integration.Integration { return New() },
	}
}

// Webhook is the generic webhook integration.
type Webhook struct {
	logger         zerolog.Logger
	client         *restclient.Client
	defaultURL     string
	defaultHeaders map[string]string
}

// New creates an unconfigured instance.
func New() *Webhook {
	return &Webhook{logger: zerolog.Nop()}
}

func (w *Webhook) Domain() string { return Domain }

func (w *Webhook) Setup(ctx context.Context, sc *integration.SetupContext) error {
	w.logger = sc.Logger
	w.logger.Info().Msg("Setting up generic webhook integration")

	timeout := defaultTimeout
	if secs := sc.Config.FloatOr("timeout", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	w.defaultURL = sc.Config.String("default_url")
	w.defaultHeaders = sc.Config.StringMap("default_headers")
	w.client = restclient.New(restclient.Options{Service: Domain, Timeout: timeout})

	return sc.Register("send_webhook", w.SendWebhook, services.Schema{
		"url":     {Type: services.TypeString, Description: "Target URL; falls back to default_url"},
		"method":  {Type: services.TypeString, Enum: []any{"GET", "POST", "PUT", "PATCH", "DELETE"}, Default: "POST"},
		"payload": {Type: services.TypeObject},
		"headers": {Type: services.TypeObject},
	}, "Send a webhook request")
}

// SendWebhook sends one request and reports the response status.
func (w *Webhook) SendWebhook(ctx context.Context, req services.Request) (services.Response, error) {
	target := req.StringOr("url", w.defaultURL)
	if target == "" {
		return nil, ErrNoURL
	}

	method := strings.ToUpper(req.StringOr("method", http.MethodPost))
	payload := req.Map("payload")
	if payload == nil {
		payload = services.Values{}
	}

	headers := make(map[string]string, len(w.defaultHeaders))
	for k, v := range w.defaultHeaders {
		headers[k] = v
	}
	for k, v := range req.StringMap("headers") {
		headers[k] = v
	}

	call := restclient.Request{Method: method, Path: target, Headers: headers}
	switch method {
	case http.MethodGet:
		call.Query = toQuery(payload)
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = "application/json"
		}
		call.Body = map[string]any(payload)
	case http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	resp, err := w.client.Do(ctx, call)
	if err != nil {
		w.logger.Error().Err(err).Str("url", target).Msg("Failed to send webhook")
		return nil, err
	}

	w.logger.Info().Str("url", target).Str("method", method).Msg("Webhook sent")

	var body any
	if text := resp.Text(maxResponseBody); text != "" {
		body = text
	}
	return services.OK(map[string]any{
		"status":      "sent",
		"status_code": resp.StatusCode,
		"response":    body,
	}), nil
}

func toQuery(payload services.Values) url.Values {
	q := url.Values{}
	for k, v := range payload {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				q.Add(k, cast.ToString(item))
			}
			continue
		}
		q.Set(k, cast.ToString(v))
	}
	return q
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
