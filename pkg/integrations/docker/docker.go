// Package docker manages containers through the Docker Engine HTTP API. One
// client is kept per target host.
package docker

import (
	"context"
	_ "embed"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/fanex-id/integrations/pkg/clientcache"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "docker"

const (
	defaultTimeout = 60 * time.Second
	defaultTail    = 100
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

// Docker is the Docker integration.
type Docker struct {
	logger  zerolog.Logger
	timeout time.Duration
	clients *clientcache.Cache[*restclient.Client]
}

func New() *Docker {
	return &Docker{
		logger:  zerolog.Nop(),
		timeout: defaultTimeout,
		clients: clientcache.New[*restclient.Client](),
	}
}

func (d *Docker) Domain() string { return Domain }

func (d *Docker) Setup(ctx context.Context, sc *integration.SetupContext) error {
	d.logger = sc.Logger
	d.logger.Info().Msg("Setting up Docker integration")

	if secs := sc.Config.IntOr("default_timeout", 0); secs > 0 {
		d.timeout = time.Duration(secs) * time.Second
	}

	hostField := services.Field{Type: services.TypeString, Default: localHost}
	idField := services.Field{Type: services.TypeString, Required: true}
	timeoutField := services.Field{Type: services.TypeInteger, Nullable: true}

	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"list_containers", d.ListContainers, services.Schema{
			"host": hostField,
			"all":  {Type: services.TypeBoolean, Default: false},
		}, "List containers on a Docker host"},
		{"start_container", d.StartContainer, services.Schema{
			"host": hostField, "container_id": idField,
		}, "Start a container"},
		{"stop_container", d.StopContainer, services.Schema{
			"host": hostField, "container_id": idField, "timeout": timeoutField,
		}, "Stop a container"},
		{"restart_container", d.RestartContainer, services.Schema{
			"host": hostField, "container_id": idField, "timeout": timeoutField,
		}, "Restart a container"},
		{"get_container_stats", d.GetContainerStats, services.Schema{
			"host": hostField, "container_id": idField,
		}, "Get container statistics"},
		{"get_container_logs", d.GetContainerLogs, services.Schema{
			"host":         hostField,
			"container_id": idField,
			"tail":         {Type: services.TypeInteger, Default: defaultTail},
			"since":        {Type: services.TypeString, Nullable: true},
		}, "Get container logs"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown drops all cached host clients.
func (d *Docker) Shutdown(ctx context.Context) error {
	d.clients.Purge()
	return nil
}

// client returns the cached client for host, creating it on first use.
func (d *Docker) client(ctx context.Context, host string) (*restclient.Client, error) {
	if host == "" {
		host = localHost
	}
	return d.clients.Get(ctx, host, func(ctx context.Context) (*restclient.Client, error) {
		ep, err := resolveHost(host)
		if err != nil {
			d.logger.Error().Err(err).Str("host", host).Msg("Failed to create Docker client")
			return nil, err
		}
		d.logger.Debug().Str("host", host).Str("base_url", ep.baseURL).Str("socket", ep.socket).Msg("Docker client created")
		return restclient.New(restclient.Options{
			Service:    Domain,
			BaseURL:    ep.baseURL,
			UnixSocket: ep.socket,
			Timeout:    d.timeout,
		}), nil
	})
}

func (d *Docker) ListContainers(ctx context.Context, req services.Request) (services.Response, error) {
	host := req.StringOr("host", localHost)
	client, err := d.client(ctx, host)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if req.BoolOr("all", false) {
		query.Set("all", "1")
	}
	resp, err := client.Get(ctx, "/containers/json", query)
	if err != nil {
		d.logger.Error().Err(err).Str("host", host).Msg("Failed to list containers")
		return nil, err
	}

	containers := []map[string]any{}
	for _, c := range gjson.ParseBytes(resp.Body).Array() {
		name := ""
		if names := c.Get("Names").Array(); len(names) > 0 {
			name = strings.TrimPrefix(names[0].String(), "/")
		}
		image := c.Get("Image").String()
		if image == "" {
			image = "unknown"
		}
		containers = append(containers, map[string]any{
			"id":     c.Get("Id").String(),
			"name":   name,
			"status": c.Get("State").String(),
			"image":  image,
		})
	}
	return services.OK(map[string]any{"containers": containers, "count": len(containers)}), nil
}

func (d *Docker) StartContainer(ctx context.Context, req services.Request) (services.Response, error) {
	return d.action(ctx, req, "start", "started")
}

func (d *Docker) StopContainer(ctx context.Context, req services.Request) (services.Response, error) {
	return d.action(ctx, req, "stop", "stopped")
}

func (d *Docker) RestartContainer(ctx context.Context, req services.Request) (services.Response, error) {
	return d.action(ctx, req, "restart", "restarted")
}

// action posts /containers/{id}/{verb}. A 304 means the container is already
// in the requested state and counts as success.
func (d *Docker) action(ctx context.Context, req services.Request, verb, done string) (services.Response, error) {
	id, err := req.RequireString("container_id")
	if err != nil {
		return nil, err
	}
	host := req.StringOr("host", localHost)
	client, err := d.client(ctx, host)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if verb != "start" && req.Has("timeout") {
		t, err := req.Int("timeout")
		if err != nil {
			return nil, err
		}
		query.Set("t", strconv.Itoa(t))
	}

	_, err = client.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   containerPath(id, verb),
		Query:  query,
	})
	if err != nil && !services.IsStatus(err, http.StatusNotModified) {
		if services.IsStatus(err, http.StatusNotFound) {
			return nil, &services.NotFoundError{Kind: "Container", ID: id}
		}
		d.logger.Error().Err(err).Str("host", host).Str("container_id", id).Msgf("Failed to %s container", verb)
		return nil, err
	}

	d.logger.Info().Str("host", host).Str("container_id", id).Msgf("Container %s", done)
	return services.OK(map[string]any{"message": "Container " + id + " " + done}), nil
}

// GetContainerStats takes a single stats sample and reports the headline numbers.
func (d *Docker) GetContainerStats(ctx context.Context, req services.Request) (services.Response, error) {
	id, err := req.RequireString("container_id")
	if err != nil {
		return nil, err
	}
	host := req.StringOr("host", localHost)
	client, err := d.client(ctx, host)
	if err != nil {
		return nil, err
	}

	resp, err := client.Get(ctx, containerPath(id, "stats"), url.Values{"stream": {"false"}})
	if err != nil {
		if services.IsStatus(err, http.StatusNotFound) {
			return nil, &services.NotFoundError{Kind: "Container", ID: id}
		}
		d.logger.Error().Err(err).Str("host", host).Str("container_id", id).Msg("Failed to get container stats")
		return nil, err
	}

	return services.OK(map[string]any{
		"container_id": id,
		"stats": map[string]any{
			"cpu_percent":  resp.Get("cpu_stats.cpu_usage.total_usage").Int(),
			"memory_usage": resp.Get("memory_stats.usage").Int(),
			"memory_limit": resp.Get("memory_stats.limit").Int(),
			"network_rx":   resp.Get("networks.eth0.rx_bytes").Int(),
			"network_tx":   resp.Get("networks.eth0.tx_bytes").Int(),
		},
	}), nil
}

// GetContainerLogs returns the last tail lines with timestamps. since accepts
// a Unix timestamp or any date format cast understands.
func (d *Docker) GetContainerLogs(ctx context.Context, req services.Request) (services.Response, error) {
	id, err := req.RequireString("container_id")
	if err != nil {
		return nil, err
	}
	host := req.StringOr("host", localHost)

	query := url.Values{
		"stdout":     {"1"},
		"stderr":     {"1"},
		"timestamps": {"1"},
		"tail":       {strconv.Itoa(req.IntOr("tail", defaultTail))},
	}
	if since := req.String("since"); since != "" {
		ts, err := sinceParam(since)
		if err != nil {
			return nil, err
		}
		query.Set("since", ts)
	}

	client, err := d.client(ctx, host)
	if err != nil {
		return nil, err
	}
	resp, err := client.Get(ctx, containerPath(id, "logs"), query)
	if err != nil {
		if services.IsStatus(err, http.StatusNotFound) {
			return nil, &services.NotFoundError{Kind: "Container", ID: id}
		}
		d.logger.Error().Err(err).Str("host", host).Str("container_id", id).Msg("Failed to get container logs")
		return nil, err
	}

	return services.OK(map[string]any{
		"container_id": id,
		"logs":         splitLines(demuxLogs(resp.Body)),
	}), nil
}

func sinceParam(since string) (string, error) {
	if _, err := strconv.ParseFloat(since, 64); err == nil {
		return since, nil
	}
	t, err := cast.ToTimeE(since)
	if err != nil {
		return "", &services.FieldError{Field: "since", Reason: "expected a Unix timestamp or date"}
	}
	return strconv.FormatInt(t.Unix(), 10), nil
}

func containerPath(id, suffix string) string {
	return "/containers/" + url.PathEscape(id) + "/" + suffix
}
