package gateway

import "time"

// Options configures the gateway server.
type Options struct {
	Host string // default "0.0.0.0"
	Port int    // default 8123

	// Secret enables HMAC-SHA256 verification of service call bodies.
	Secret          string
	SignatureHeader string // default "X-Fanex-Signature"

	RateLimitPerMinute int           // per client IP, default 100
	RequestTimeout     time.Duration // per service call, default 30s
	MaxBodyBytes       int64         // default 1 MiB
	ShutdownTimeout    time.Duration // default 30s

	// ValidateRequests rejects bodies that fail the service schema with 400.
	ValidateRequests bool
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8123
	defaultSignatureHeader = "X-Fanex-Signature"
	defaultRateLimit       = 100
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxBodyBytes    = 1 << 20
	defaultShutdownTimeout = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = defaultHost
	}
	if o.Port == 0 {
		o.Port = defaultPort
	}
	if o.SignatureHeader == "" {
		o.SignatureHeader = defaultSignatureHeader
	}
	if o.RateLimitPerMinute == 0 {
		o.RateLimitPerMinute = defaultRateLimit
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}
	return o
}

// EventMessage is one bus event as written to websocket subscribers.
type EventMessage struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Seq       int64          `json:"seq"`
}

// ClientInfo describes a connected event stream subscriber.
type ClientInfo struct {
	ID          string    `json:"id"`
	Pattern     string    `json:"pattern"`
	IPAddress   string    `json:"ip"`
	ConnectedAt time.Time `json:"connected_at"`
	Dropped     int64     `json:"dropped"`
}
