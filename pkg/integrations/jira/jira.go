// Package jira manages issues through the Jira Cloud REST API v3.
package jira

import (
	"context"
	_ "embed"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "jira"

const (
	requestTimeout   = 30 * time.Second
	defaultIssueType = "Task"
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

// Jira is the Jira integration.
type Jira struct {
	logger         zerolog.Logger
	events         events.Emitter
	client         *restclient.Client
	serverURL      string
	defaultProject string
}

func New() *Jira {
	return &Jira{logger: zerolog.Nop()}
}

func (j *Jira) Domain() string { return Domain }

func (j *Jira) Setup(ctx context.Context, sc *integration.SetupContext) error {
	j.logger = sc.Logger
	j.events = sc.Events()
	j.logger.Info().Msg("Setting up Jira integration")

	j.serverURL = strings.TrimRight(sc.Config.String("server_url"), "/")
	if j.serverURL == "" {
		return &services.ConfigError{Domain: Domain, Key: "server_url"}
	}
	username := sc.Config.String("username")
	token := sc.Config.String("api_token")
	if username == "" || token == "" {
		return &services.ConfigError{Domain: Domain, Key: "credentials"}
	}
	j.defaultProject = sc.Config.String("default_project")

	j.client = restclient.New(restclient.Options{
		Service: Domain,
		BaseURL: j.serverURL + "/rest/api/3",
		Auth:    restclient.BasicAuth{Username: username, Password: token},
		Timeout: requestTimeout,
	})

	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"create_ticket", j.CreateTicket, services.Schema{
			"project_key": {Type: services.TypeString},
			"issue_type":  {Type: services.TypeString, Default: defaultIssueType},
			"summary":     {Type: services.TypeString},
			"description": {Type: services.TypeString},
			"assignee":    {Type: services.TypeString},
			"labels":      {Type: services.TypeArray},
		}, "Create a Jira ticket"},
		{"get_ticket", j.GetTicket, services.Schema{
			"ticket_key": {Type: services.TypeString, Required: true},
		}, "Get Jira ticket information"},
		{"update_ticket", j.UpdateTicket, services.Schema{
			"ticket_key": {Type: services.TypeString, Required: true},
			"fields":     {Type: services.TypeObject},
		}, "Update a Jira ticket"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

// Health checks the credentials against /myself.
func (j *Jira) Health(ctx context.Context) error {
	_, err := j.client.Get(ctx, "/myself", nil)
	return err
}

// CreateTicket creates an issue in project_key, or the configured default project.
func (j *Jira) CreateTicket(ctx context.Context, req services.Request) (services.Response, error) {
	project := req.StringOr("project_key", j.defaultProject)
	if project == "" {
		return nil, &services.FieldError{Field: "project_key"}
	}

	fields := map[string]any{
		"project":     map[string]any{"key": project},
		"summary":     req.String("summary"),
		"description": req.String("description"),
		"issuetype":   map[string]any{"name": req.StringOr("issue_type", defaultIssueType)},
	}
	if assignee := req.String("assignee"); assignee != "" {
		fields["assignee"] = map[string]any{"name": assignee}
	}
	if labels := req.StringSlice("labels"); len(labels) > 0 {
		fields["labels"] = labels
	}

	resp, err := j.client.Post(ctx, "/issue", map[string]any{"fields": fields})
	if err != nil {
		j.logger.Error().Err(err).Str("project", project).Msg("Failed to create Jira ticket")
		return nil, err
	}

	key := resp.Get("key").String()
	j.logger.Info().Str("ticket_key", key).Msg("Jira ticket created")
	j.events.Emit("jira.ticket_created", map[string]any{"ticket_key": key, "project_key": project})
	return services.OK(map[string]any{
		"status":     "created",
		"ticket_key": key,
		"url":        j.serverURL + "/browse/" + key,
	}), nil
}

// GetTicket returns a flattened view of an issue.
func (j *Jira) GetTicket(ctx context.Context, req services.Request) (services.Response, error) {
	key, err := req.RequireString("ticket_key")
	if err != nil {
		return nil, err
	}

	resp, err := j.client.Get(ctx, "/issue/"+url.PathEscape(key), nil)
	if err != nil {
		j.logger.Error().Err(err).Str("ticket_key", key).Msg("Failed to get Jira ticket")
		return nil, notFound(err, key)
	}

	var assignee any
	if name := resp.Get("fields.assignee.displayName"); name.Exists() {
		assignee = name.String()
	}
	return services.OK(map[string]any{
		"key":      resp.Get("key").String(),
		"summary":  resp.Get("fields.summary").String(),
		"status":   resp.Get("fields.status.name").String(),
		"assignee": assignee,
	}), nil
}

// UpdateTicket sets fields on an issue.
func (j *Jira) UpdateTicket(ctx context.Context, req services.Request) (services.Response, error) {
	key, err := req.RequireString("ticket_key")
	if err != nil {
		return nil, err
	}
	fields := req.Map("fields")
	if fields == nil {
		fields = services.Values{}
	}

	if _, err := j.client.Put(ctx, "/issue/"+url.PathEscape(key), map[string]any{"fields": fields}); err != nil {
		j.logger.Error().Err(err).Str("ticket_key", key).Msg("Failed to update Jira ticket")
		return nil, notFound(err, key)
	}

	j.logger.Info().Str("ticket_key", key).Msg("Jira ticket updated")
	return services.OK(map[string]any{"status": "updated", "ticket_key": key}), nil
}

func notFound(err error, key string) error {
	if services.IsStatus(err, http.StatusNotFound) {
		return &services.NotFoundError{Kind: "Ticket", ID: key}
	}
	return err
}
