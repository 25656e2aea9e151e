// Package msgraphexchange sends mail and manages calendars in Exchange Online.
// It has no credentials of its own: every call goes through the
// microsoft_graph integration.
package msgraphexchange

import (
	"context"
	_ "embed"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/integrations/msgraph"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "microsoft_graph_exchange"

const (
	defaultFolder   = "inbox"
	defaultLimit    = 10
	defaultTimezone = "UTC"
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

// graphClient is the part of the Graph integration this package uses.
type graphClient interface {
	GraphRequest(ctx context.Context, method, endpoint string, params url.Values, body any) (*restclient.Response, error)
}

// Exchange is the Exchange Online integration.
type Exchange struct {
	logger      zerolog.Logger
	events      events.Emitter
	graph       graphClient
	defaultUser string
	timezone    string
}

func New() *Exchange {
	return &Exchange{logger: zerolog.Nop()}
}

func (e *Exchange) Domain() string { return Domain }

func (e *Exchange) Setup(ctx context.Context, sc *integration.SetupContext) error {
	e.logger = sc.Logger
	e.events = sc.Events()
	e.logger.Info().Msg("Setting up Exchange integration")

	graph, err := integration.DependencyAs[*msgraph.Graph](sc, msgraph.Domain)
	if err != nil {
		e.logger.Error().Err(err).Msg("Microsoft Graph integration is not available")
		return err
	}
	e.graph = graph
	e.defaultUser = sc.Config.String("default_user_id")
	e.timezone = sc.Config.StringOr("timezone", defaultTimezone)

	userField := services.Field{Type: services.TypeString, Description: "User id or UPN; defaults to default_user_id"}
	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"send_email", e.SendEmail, services.Schema{
			"to":      {Type: services.TypeArray, Required: true},
			"subject": {Type: services.TypeString},
			"body":    {Type: services.TypeString},
			"cc":      {Type: services.TypeArray, Nullable: true},
			"html":    {Type: services.TypeBoolean, Default: false},
			"user_id": userField,
		}, "Send an email from a mailbox"},
		{"get_messages", e.GetMessages, services.Schema{
			"user_id": userField,
			"folder":  {Type: services.TypeString, Default: defaultFolder},
			"limit":   {Type: services.TypeInteger, Default: defaultLimit},
		}, "List recent messages in a mail folder"},
		{"create_calendar_event", e.CreateCalendarEvent, services.Schema{
			"subject":   {Type: services.TypeString, Required: true},
			"start":     {Type: services.TypeString, Required: true},
			"end":       {Type: services.TypeString, Required: true},
			"attendees": {Type: services.TypeArray, Nullable: true},
			"location":  {Type: services.TypeString, Nullable: true},
			"user_id":   userField,
		}, "Create a calendar event"},
		{"get_calendar_events", e.GetCalendarEvents, services.Schema{
			"start_date": {Type: services.TypeString, Required: true},
			"end_date":   {Type: services.TypeString, Required: true},
			"user_id":    userField,
		}, "List calendar events in a time window"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exchange) user(req services.Request) (string, error) {
	user := req.StringOr("user_id", e.defaultUser)
	if user == "" {
		return "", &services.FieldError{Field: "user_id"}
	}
	return "/users/" + url.PathEscape(user), nil
}

func recipients(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, map[string]any{"emailAddress": map[string]any{"address": a}})
	}
	return out
}

// SendEmail posts to /users/{id}/sendMail and keeps a copy in Sent Items.
func (e *Exchange) SendEmail(ctx context.Context, req services.Request) (services.Response, error) {
	to := req.StringSlice("to")
	if len(to) == 0 {
		return nil, &services.FieldError{Field: "to"}
	}
	user, err := e.user(req)
	if err != nil {
		return nil, err
	}

	contentType := "Text"
	if req.BoolOr("html", false) {
		contentType = "HTML"
	}
	message := map[string]any{
		"subject":      req.String("subject"),
		"body":         map[string]any{"contentType": contentType, "content": req.String("body")},
		"toRecipients": recipients(to),
	}
	if cc := req.StringSlice("cc"); len(cc) > 0 {
		message["ccRecipients"] = recipients(cc)
	}

	_, err = e.graph.GraphRequest(ctx, http.MethodPost, user+"/sendMail", nil, map[string]any{
		"message":         message,
		"saveToSentItems": true,
	})
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to send email via Exchange")
		return nil, err
	}

	e.logger.Info().Strs("to", to).Msg("Email sent via Exchange")
	e.events.Emit(Domain+".email_sent", map[string]any{"to": to, "subject": req.String("subject")})
	return services.OK(map[string]any{"message": "Email sent", "recipients": to}), nil
}

func (e *Exchange) GetMessages(ctx context.Context, req services.Request) (services.Response, error) {
	user, err := e.user(req)
	if err != nil {
		return nil, err
	}
	folder := req.StringOr("folder", defaultFolder)
	limit := req.IntOr("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := e.graph.GraphRequest(ctx, http.MethodGet,
		user+"/mailFolders/"+url.PathEscape(folder)+"/messages",
		url.Values{
			"$top":     {strconv.Itoa(limit)},
			"$select":  {"id,subject,from,receivedDateTime,isRead"},
			"$orderby": {"receivedDateTime desc"},
		}, nil)
	if err != nil {
		e.logger.Error().Err(err).Str("folder", folder).Msg("Failed to get Exchange messages")
		return nil, err
	}

	messages := []map[string]any{}
	for _, m := range resp.Get("value").Array() {
		messages = append(messages, map[string]any{
			"id":       m.Get("id").String(),
			"subject":  m.Get("subject").String(),
			"from":     m.Get("from.emailAddress.address").String(),
			"received": m.Get("receivedDateTime").String(),
			"is_read":  m.Get("isRead").Bool(),
		})
	}
	return services.OK(map[string]any{"messages": messages, "count": len(messages)}), nil
}

// CreateCalendarEvent creates an event in the user's default calendar. start
// and end accept any date format cast understands and are sent in the
// configured time zone.
func (e *Exchange) CreateCalendarEvent(ctx context.Context, req services.Request) (services.Response, error) {
	subject := req.String("subject")
	if subject == "" || !req.Has("start") || !req.Has("end") {
		return nil, services.MissingFields("subject", "start", "end")
	}
	start, err := e.dateTime(req, "start")
	if err != nil {
		return nil, err
	}
	end, err := e.dateTime(req, "end")
	if err != nil {
		return nil, err
	}
	user, err := e.user(req)
	if err != nil {
		return nil, err
	}

	event := map[string]any{
		"subject": subject,
		"start":   start,
		"end":     end,
	}
	if attendees := req.StringSlice("attendees"); len(attendees) > 0 {
		list := recipients(attendees)
		for _, a := range list {
			a["type"] = "required"
		}
		event["attendees"] = list
	}
	if loc := req.String("location"); loc != "" {
		event["location"] = map[string]any{"displayName": loc}
	}

	resp, err := e.graph.GraphRequest(ctx, http.MethodPost, user+"/events", nil, event)
	if err != nil {
		e.logger.Error().Err(err).Str("subject", subject).Msg("Failed to create Exchange calendar event")
		return nil, err
	}

	e.logger.Info().Str("subject", subject).Msg("Calendar event created")
	return services.OK(map[string]any{"event_id": resp.Get("id").String()}), nil
}

func (e *Exchange) GetCalendarEvents(ctx context.Context, req services.Request) (services.Response, error) {
	if !req.Has("start_date") || !req.Has("end_date") {
		return nil, services.MissingFields("start_date", "end_date")
	}
	start, err := e.parseTime(req, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := e.parseTime(req, "end_date")
	if err != nil {
		return nil, err
	}
	user, err := e.user(req)
	if err != nil {
		return nil, err
	}

	resp, err := e.graph.GraphRequest(ctx, http.MethodGet, user+"/calendarView", url.Values{
		"startDateTime": {start.UTC().Format(time.RFC3339)},
		"endDateTime":   {end.UTC().Format(time.RFC3339)},
		"$select":       {"subject,start,end,location"},
	}, nil)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to get Exchange calendar events")
		return nil, err
	}

	events := []map[string]any{}
	for _, ev := range resp.Get("value").Array() {
		events = append(events, map[string]any{
			"subject":  ev.Get("subject").String(),
			"start":    ev.Get("start.dateTime").String(),
			"end":      ev.Get("end.dateTime").String(),
			"location": ev.Get("location.displayName").String(),
		})
	}
	return services.OK(map[string]any{"events": events, "count": len(events)}), nil
}

func (e *Exchange) parseTime(req services.Request, key string) (time.Time, error) {
	t, err := cast.ToTimeE(req.Get(key))
	if err != nil {
		return time.Time{}, &services.FieldError{Field: key, Reason: "expected a date or time"}
	}
	return t, nil
}

// dateTime renders a Graph dateTimeTimeZone value.
func (e *Exchange) dateTime(req services.Request, key string) (map[string]any, error) {
	t, err := e.parseTime(req, key)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(e.timezone)
	if err != nil {
		loc = time.UTC
	}
	return map[string]any{
		"dateTime": t.In(loc).Format("2006-01-02T15:04:05"),
		"timeZone": e.timezone,
	}, nil
}
