// Package restclient is the small JSON-over-HTTP helper shared by the REST
// integrations. It has no retry policy: a failed request is reported once.
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fanex-id/integrations/pkg/services"
)

const (
	// DefaultTimeout applies when Options.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failing response body is kept in UpstreamError.
	maxErrorBody = 500
)

// Auth decorates outgoing requests with credentials.
type Auth interface {
	Apply(req *http.Request)
}

// BearerToken sends "Authorization: Bearer <token>".
type BearerToken string

func (t BearerToken) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(t))
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(b.Username, b.Password)
}

// HeaderAuth sets a single header, e.g. "vmware-api-session-id".
type HeaderAuth struct {
	Name  string
	Value string
}

func (h HeaderAuth) Apply(req *http.Request) {
	req.Header.Set(h.Name, h.Value)
}

// Options configures a Client.
type Options struct {
	// Service names the vendor in errors, e.g. "jira".
	Service string
	BaseURL string
	Auth    Auth
	Headers map[string]string
	Timeout time.Duration
	// InsecureSkipVerify disables TLS verification (verify_ssl: false).
	InsecureSkipVerify bool
	// UnixSocket routes every request over the given socket path.
	UnixSocket string
	// HTTPClient overrides the constructed client entirely.
	HTTPClient *http.Client
}

// Client issues JSON requests against one base URL.
type Client struct {
	service string
	baseURL string
	auth    Auth
	headers map[string]string
	http    *http.Client
}

// New creates a Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := opts.HTTPClient
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opted out via verify_ssl
		}
		if opts.UnixSocket != "" {
			socket := opts.UnixSocket
			transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			}
		}
		hc = &http.Client{Timeout: timeout, Transport: transport}
	}

	service := opts.Service
	if service == "" {
		service = "upstream"
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Client{
		service: service,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		auth:    opts.Auth,
		headers: headers,
		http:    hc,
	}
}

// BaseURL returns the configured base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithAuth returns a copy of c using auth.
func (c *Client) WithAuth(auth Auth) *Client {
	clone := *c
	clone.auth = auth
	return &clone
}

// Request describes one call.
type Request struct {
	Method string
	// Path is joined to the base URL unless it is already absolute.
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
}

// Response is a completed call with a 2xx status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get returns the gjson result at path in the body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// JSON returns the body decoded as a generic value, or the body text when it is not JSON.
func (r *Response) JSON() any {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return string(r.Body)
	}
	return v
}

// Text returns the body as a string truncated to max runes when max > 0.
func (r *Response) Text(max int) string {
	return Truncate(string(r.Body), max)
}

// Do performs req. Transport failures and non-2xx statuses are returned as
// *services.UpstreamError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := c.resolve(req.Path)
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			body = bytes.NewReader(b)
		case string:
			body = strings.NewReader(b)
		default:
			payload, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s request body: %w", c.service, err)
			}
			body = bytes.NewReader(payload)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", c.service, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if c.auth != nil {
		c.auth.Apply(httpReq)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &services.UpstreamError{Service: c.service, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &services.UpstreamError{Service: c.service, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &services.UpstreamError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Body:       Truncate(strings.TrimSpace(string(data)), maxErrorBody),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Truncate shortens s to at most max runes. max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
