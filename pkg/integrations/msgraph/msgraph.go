// Package msgraph authenticates against Microsoft Graph with the OAuth2
// client credentials flow. Other Graph-based integrations depend on it and
// issue their calls through GraphRequest.
package msgraph

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fanex-id/integrations/pkg/clientcache"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "microsoft_graph"

const (
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"
	DefaultScope    = "https://graph.microsoft.com/.default"

	requestTimeout = 30 * time.Second
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

// Graph is the Microsoft Graph integration.
type Graph struct {
	logger   zerolog.Logger
	graphURL string
	creds    clientcredentials.Config

	// clients holds one authenticated client per tenant.
	clients *clientcache.Cache[*restclient.Client]
	tenant  string
}

func New() *Graph {
	return &Graph{
		logger:  zerolog.Nop(),
		clients: clientcache.New[*restclient.Client](),
	}
}

func (g *Graph) Domain() string { return Domain }

func (g *Graph) Setup(ctx context.Context, sc *integration.SetupContext) error {
	g.logger = sc.Logger
	g.logger.Info().Msg("Setting up Microsoft Graph integration")

	for _, key := range []string{"tenant_id", "client_id", "client_secret"} {
		if sc.Config.String(key) == "" {
			return &services.ConfigError{Domain: Domain, Key: key}
		}
	}
	g.tenant = sc.Config.String("tenant_id")
	g.graphURL = strings.TrimRight(sc.Config.StringOr("graph_url", DefaultGraphURL), "/")

	scopes := sc.Config.StringSlice("scopes")
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	g.creds = clientcredentials.Config{
		ClientID:     sc.Config.String("client_id"),
		ClientSecret: sc.Config.String("client_secret"),
		TokenURL: sc.Config.StringOr("token_url",
			fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(g.tenant))),
		Scopes:    scopes,
		AuthStyle: oauth2.AuthStyleInParams,
	}

	if _, err := g.client(ctx); err != nil {
		g.logger.Error().Err(err).Msg("Failed to authenticate with Microsoft Graph")
		return err
	}

	return sc.Register("graph_request", g.HandleGraphRequest, services.Schema{
		"method":   {Type: services.TypeString, Default: http.MethodGet},
		"endpoint": {Type: services.TypeString, Required: true},
		"params":   {Type: services.TypeObject, Nullable: true},
		"body":     {Type: services.TypeObject, Nullable: true},
	}, "Make an authenticated request to the Microsoft Graph API")
}

// Shutdown drops cached clients and their tokens.
func (g *Graph) Shutdown(ctx context.Context) error {
	g.clients.Purge()
	return nil
}

// client returns the tenant's authenticated client. The first call fetches a
// token so bad credentials surface immediately; refreshes happen inside the
// oauth2 transport.
func (g *Graph) client(ctx context.Context) (*restclient.Client, error) {
	return g.clients.Get(ctx, g.tenant, func(ctx context.Context) (*restclient.Client, error) {
		// The token source outlives setup, so it must not inherit its cancellation.
		base := context.WithoutCancel(ctx)
		ts := g.creds.TokenSource(base)
		if _, err := ts.Token(); err != nil {
			return nil, &services.UpstreamError{Service: Domain, Err: fmt.Errorf("token request failed: %w", err)}
		}

		hc := oauth2.NewClient(base, ts)
		hc.Timeout = requestTimeout
		return restclient.New(restclient.Options{
			Service:    Domain,
			BaseURL:    g.graphURL,
			HTTPClient: hc,
		}), nil
	})
}

// GraphRequest issues an authenticated Graph call. endpoint is relative to the
// Graph base URL, e.g. "/users/{id}/sendMail".
func (g *Graph) GraphRequest(ctx context.Context, method, endpoint string, params url.Values, body any) (*restclient.Response, error) {
	client, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return client.Do(ctx, restclient.Request{
		Method: method,
		Path:   endpoint,
		Query:  params,
		Body:   body,
	})
}

// HandleGraphRequest exposes GraphRequest as the graph_request service.
func (g *Graph) HandleGraphRequest(ctx context.Context, req services.Request) (services.Response, error) {
	endpoint, err := req.RequireString("endpoint")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.StringOr("method", http.MethodGet))

	params := url.Values{}
	for k, v := range req.StringMap("params") {
		params.Set(k, v)
	}
	var body any
	if m := req.Map("body"); m != nil {
		body = m
	}

	resp, err := g.GraphRequest(ctx, method, endpoint, params, body)
	if err != nil {
		g.logger.Error().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("Graph request failed")
		return nil, err
	}

	var data any
	if len(resp.Body) > 0 {
		data = resp.JSON()
	}
	return services.OK(map[string]any{"status_code": resp.StatusCode, "data": data}), nil
}

// Health requests a token.
func (g *Graph) Health(ctx context.Context) error {
	_, err := g.client(ctx)
	return err
}
