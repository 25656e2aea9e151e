// Package esxi controls virtual machines through the vSphere Automation REST
// API. A session is opened at setup and reused until reconnect is invoked.
package esxi

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/fanex-id/integrations/pkg/clientcache"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/restclient"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "esxi"

const (
	sessionKey    = "session"
	sessionHeader = "vmware-api-session-id"

	authTimeout    = 10 * time.Second
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

// ESXi is the VMware ESXi integration.
type ESXi struct {
	logger   zerolog.Logger
	host     string
	apiBase  string
	username string
	password string
	insecure bool

	sessions *clientcache.Cache[*restclient.Client]
}

func New() *ESXi {
	return &ESXi{
		logger:   zerolog.Nop(),
		sessions: clientcache.New[*restclient.Client](),
	}
}

func (e *ESXi) Domain() string { return Domain }

func (e *ESXi) Setup(ctx context.Context, sc *integration.SetupContext) error {
	e.logger = sc.Logger
	e.logger.Info().Msg("Setting up ESXi integration")

	e.host = strings.TrimRight(sc.Config.String("host"), "/")
	e.username = sc.Config.String("username")
	e.password = sc.Config.String("password")
	if e.host == "" || e.username == "" || e.password == "" {
		var missing []string
		for _, key := range []string{"host", "username", "password"} {
			if sc.Config.String(key) == "" {
				missing = append(missing, key)
			}
		}
		return &services.ConfigError{Domain: Domain, Key: strings.Join(missing, ", ")}
	}
	e.insecure = !sc.Config.BoolOr("verify_ssl", false)
	e.apiBase = apiBase(e.host)

	if _, err := e.session(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to authenticate with ESXi host")
		return err
	}

	vmID := services.Schema{"vm_id": {Type: services.TypeString, Required: true}}
	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"list_vms", e.ListVMs, services.Schema{}, "List all virtual machines on the ESXi host"},
		{"get_vm_info", e.GetVMInfo, vmID, "Get information about a specific VM"},
		{"power_on_vm", e.powerAction("start", "powered on"), vmID, "Power on a virtual machine"},
		{"power_off_vm", e.powerAction("stop", "powered off"), vmID, "Power off a virtual machine"},
		{"restart_vm", e.powerAction("reset", "restarted"), vmID, "Restart a virtual machine"},
		{"get_vm_power_state", e.GetVMPowerState, vmID, "Get the power state of a VM"},
		{"test_connection", e.TestConnection, services.Schema{}, "Test connection to ESXi host"},
		{"reconnect", e.Reconnect, services.Schema{}, "Discard the current session and authenticate again"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown forgets the session.
func (e *ESXi) Shutdown(ctx context.Context) error {
	e.sessions.Purge()
	return nil
}

func apiBase(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + "/api"
	}
	return "https://" + host + "/api"
}

// session returns the authenticated client, logging in on first use. Expired
// sessions are not detected; callers recover through Reconnect.
func (e *ESXi) session(ctx context.Context) (*restclient.Client, error) {
	return e.sessions.Get(ctx, sessionKey, e.authenticate)
}

func (e *ESXi) authenticate(ctx context.Context) (*restclient.Client, error) {
	login := restclient.New(restclient.Options{
		Service:            Domain,
		BaseURL:            e.apiBase,
		Auth:               restclient.BasicAuth{Username: e.username, Password: e.password},
		Timeout:            authTimeout,
		InsecureSkipVerify: e.insecure,
	})

	resp, err := login.Post(ctx, "/session", nil)
	if err != nil {
		return nil, err
	}
	id := sessionID(resp.Body)
	if id == "" {
		return nil, errors.New("esxi: empty session id in login response")
	}

	e.logger.Info().Str("host", e.host).Msg("ESXi session established")
	return restclient.New(restclient.Options{
		Service:            Domain,
		BaseURL:            e.apiBase,
		Auth:               restclient.HeaderAuth{Name: sessionHeader, Value: id},
		Timeout:            requestTimeout,
		InsecureSkipVerify: e.insecure,
	}), nil
}

// sessionID reads the token from a bare JSON string (/api) or a
// {"value": "..."} wrapper (/rest).
func sessionID(body []byte) string {
	doc := gjson.ParseBytes(body)
	if doc.Type == gjson.String {
		return doc.String()
	}
	return doc.Get("value").String()
}

func (e *ESXi) ListVMs(ctx context.Context, req services.Request) (services.Response, error) {
	client, err := e.session(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.Get(ctx, "/vcenter/vm", nil)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to list VMs")
		return nil, err
	}

	vms := []map[string]any{}
	for _, vm := range vmList(resp.Body) {
		vms = append(vms, map[string]any{
			"vm":          vm.Get("vm").String(),
			"name":        vm.Get("name").String(),
			"power_state": vm.Get("power_state").String(),
			"cpu_count":   vm.Get("cpu_count").Value(),
			"memory_mb":   vm.Get("memory_size_MiB").Value(),
		})
	}
	return services.OK(map[string]any{"vms": vms, "count": len(vms)}), nil
}

// vmList accepts both the bare array of /api and the {"value": [...]} wrapper
// of the older /rest endpoints.
func vmList(body []byte) []gjson.Result {
	doc := gjson.ParseBytes(body)
	if doc.IsArray() {
		return doc.Array()
	}
	return doc.Get("value").Array()
}

func (e *ESXi) GetVMInfo(ctx context.Context, req services.Request) (services.Response, error) {
	vmID, err := req.RequireString("vm_id")
	if err != nil {
		return nil, err
	}
	client, err := e.session(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Get(ctx, "/vcenter/vm/"+url.PathEscape(vmID), nil)
	if err != nil {
		e.logger.Error().Err(err).Str("vm_id", vmID).Msg("Failed to get VM info")
		return nil, vmError(err, vmID)
	}
	return services.OK(map[string]any{"data": resp.JSON()}), nil
}

// powerAction returns a handler posting /vcenter/vm/{vm}/power?action=<action>.
func (e *ESXi) powerAction(action, done string) services.Handler {
	return func(ctx context.Context, req services.Request) (services.Response, error) {
		vmID, err := req.RequireString("vm_id")
		if err != nil {
			return nil, err
		}
		client, err := e.session(ctx)
		if err != nil {
			return nil, err
		}

		_, err = client.Do(ctx, restclient.Request{
			Method: http.MethodPost,
			Path:   "/vcenter/vm/" + url.PathEscape(vmID) + "/power",
			Query:  url.Values{"action": {action}},
		})
		if err != nil {
			e.logger.Error().Err(err).Str("vm_id", vmID).Str("action", action).Msg("VM power action failed")
			return nil, vmError(err, vmID)
		}

		e.logger.Info().Str("vm_id", vmID).Str("action", action).Msg("VM power action completed")
		return services.OK(map[string]any{"message": "VM " + vmID + " " + done}), nil
	}
}

func (e *ESXi) GetVMPowerState(ctx context.Context, req services.Request) (services.Response, error) {
	vmID, err := req.RequireString("vm_id")
	if err != nil {
		return nil, err
	}
	client, err := e.session(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Get(ctx, "/vcenter/vm/"+url.PathEscape(vmID)+"/power", nil)
	if err != nil {
		e.logger.Error().Err(err).Str("vm_id", vmID).Msg("Failed to get VM power state")
		return nil, vmError(err, vmID)
	}
	return services.OK(map[string]any{"vm_id": vmID, "power_state": resp.Get("state").String()}), nil
}

// TestConnection lists VMs with the current session, logging in first if the
// session was dropped.
func (e *ESXi) TestConnection(ctx context.Context, req services.Request) (services.Response, error) {
	client, err := e.session(ctx)
	if err != nil {
		return nil, errors.New("Authentication failed")
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	if _, err := client.Get(ctx, "/vcenter/vm", nil); err != nil {
		e.logger.Error().Err(err).Msg("ESXi connection test failed")
		return nil, err
	}
	return services.OK(map[string]any{"message": "Connection successful", "host": e.host}), nil
}

// Reconnect discards the cached session and logs in again.
func (e *ESXi) Reconnect(ctx context.Context, req services.Request) (services.Response, error) {
	e.sessions.Invalidate(sessionKey)
	if _, err := e.session(ctx); err != nil {
		e.logger.Error().Err(err).Msg("ESXi re-authentication failed")
		return nil, err
	}
	return services.OK(map[string]any{"message": "Session re-established", "host": e.host}), nil
}

// Health lists VMs with the current session.
func (e *ESXi) Health(ctx context.Context) error {
	_, err := e.TestConnection(ctx, nil)
	return err
}

func vmError(err error, vmID string) error {
	if services.IsStatus(err, http.StatusNotFound) {
		return &services.NotFoundError{Kind: "VM", ID: vmID}
	}
	return err
}
