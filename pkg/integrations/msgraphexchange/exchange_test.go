package msgraphexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/integration/integrationtest"
	"github.com/fanex-id/integrations/pkg/integrations/msgraph"
	"github.com/fanex-id/integrations/pkg/services"
)

type fakeGraph struct {
	*httptest.Server

	mu    sync.Mutex
	body  map[string]any
	query map[string]string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1.0/users/ops@example.com/sendMail", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/v1.0/users/ops@example.com/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		_, _ = w.Write([]byte(`{"value":[{"id":"m1","subject":"Alert","from":{"emailAddress":{"address":"noc@example.com"}},"receivedDateTime":"2024-05-01T10:00:00Z","isRead":false}]}`))
	})
	mux.HandleFunc("/v1.0/users/ops@example.com/events", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"evt1"}`))
	})
	mux.HandleFunc("/v1.0/users/ops@example.com/calendarView", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		_, _ = w.Write([]byte(`{"value":[{"subject":"Patch window","start":{"dateTime":"2024-05-02T22:00:00"},"end":{"dateTime":"2024-05-02T23:00:00"},"location":{"displayName":"DC1"}}]}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGraph) record(t *testing.T, r *http.Request) {
	assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
	var body map[string]any
	if r.Method == http.MethodPost {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}
	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	f.mu.Lock()
	f.body = body
	f.query = query
	f.mu.Unlock()
}

func (f *fakeGraph) last() (map[string]any, map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body, f.query
}

func setup(t *testing.T) (*fakeGraph, *integrationtest.Harness) {
	g := newFakeGraph(t)
	h := integrationtest.New(t, map[string]services.Values{
		msgraph.Domain: {
			"tenant_id":     "t1",
			"client_id":     "app",
			"client_secret": "secret",
			"graph_url":     g.URL + "/v1.0",
			"token_url":     g.URL + "/token",
		},
		Domain: {"default_user_id": "ops@example.com"},
	}, Factory(), msgraph.Factory())
	require.NoError(t, h.Host.SetupAll(context.Background()))
	return g, h
}

func TestSetup_RequiresGraph(t *testing.T) {
	h := integrationtest.New(t, map[string]services.Values{Domain: {}}, Factory())

	err := h.Host.Setup(context.Background(), Domain)
	assert.ErrorIs(t, err, integration.ErrDependencyNotReady)
	assert.Equal(t, 0, h.Registry.Len())

	d, ok := h.Host.Get(Domain)
	require.True(t, ok)
	assert.Equal(t, integration.StateFailed, d.State)
}

func TestSetup_GraphFailedCascades(t *testing.T) {
	h := integrationtest.New(t, map[string]services.Values{
		msgraph.Domain: {"tenant_id": "t1"},
	}, Factory(), msgraph.Factory())

	err := h.Host.SetupAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, h.Registry.Len())
}

func TestSendEmail(t *testing.T) {
	g, h := setup(t)

	resp := h.Invoke(Domain, "send_email", services.Request{
		"to":      "alice@example.com",
		"cc":      []any{"bob@example.com"},
		"subject": "Deploy done",
		"body":    "<b>ok</b>",
		"html":    true,
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, []string{"alice@example.com"}, resp["recipients"])

	body, _ := g.last()
	assert.Equal(t, true, body["saveToSentItems"])
	msg := body["message"].(map[string]any)
	assert.Equal(t, "Deploy done", msg["subject"])
	assert.Equal(t, map[string]any{"contentType": "HTML", "content": "<b>ok</b>"}, msg["body"])
	assert.Equal(t, []any{map[string]any{"emailAddress": map[string]any{"address": "alice@example.com"}}}, msg["toRecipients"])
	assert.Len(t, msg["ccRecipients"], 1)

	h.WaitForEvent(t, Domain+".email_sent")
}

func TestSendEmail_Validation(t *testing.T) {
	_, h := setup(t)

	resp := h.Invoke(Domain, "send_email", services.Request{"subject": "x"})
	assert.Equal(t, "to is required", resp.ErrorMessage())
}

func TestGetMessages(t *testing.T) {
	g, h := setup(t)

	resp := h.Invoke(Domain, "get_messages", services.Request{"limit": 5})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, 1, resp["count"])
	msg := resp["messages"].([]map[string]any)[0]
	assert.Equal(t, "noc@example.com", msg["from"])
	assert.Equal(t, false, msg["is_read"])

	_, query := g.last()
	assert.Equal(t, "5", query["$top"])
}

func TestCreateCalendarEvent(t *testing.T) {
	g, h := setup(t)

	resp := h.Invoke(Domain, "create_calendar_event", services.Request{
		"subject":   "Patch window",
		"start":     "2024-05-02T22:00:00Z",
		"end":       "2024-05-02T23:00:00Z",
		"attendees": []any{"alice@example.com"},
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, "evt1", resp["event_id"])

	body, _ := g.last()
	assert.Equal(t, map[string]any{"dateTime": "2024-05-02T22:00:00", "timeZone": "UTC"}, body["start"])
	attendees := body["attendees"].([]any)
	assert.Equal(t, "required", attendees[0].(map[string]any)["type"])

	resp = h.Invoke(Domain, "create_calendar_event", services.Request{"subject": "x"})
	assert.Equal(t, "subject, start and end are required", resp.ErrorMessage())

	resp = h.Invoke(Domain, "create_calendar_event", services.Request{"subject": "x", "start": "soon", "end": "later"})
	assert.Equal(t, "start: expected a date or time", resp.ErrorMessage())
}

func TestGetCalendarEvents(t *testing.T) {
	g, h := setup(t)

	resp := h.Invoke(Domain, "get_calendar_events", services.Request{
		"start_date": "2024-05-01",
		"end_date":   "2024-05-03",
		"user_id":    "ops@example.com",
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, 1, resp["count"])
	assert.Equal(t, "DC1", resp["events"].([]map[string]any)[0]["location"])

	_, query := g.last()
	assert.Equal(t, "2024-05-01T00:00:00Z", query["startDateTime"])
}
