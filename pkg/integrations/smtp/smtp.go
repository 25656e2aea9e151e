// Package smtp sends plain-text and HTML email through an SMTP relay.
package smtp

import (
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"mime"
	"net"
	netsmtp "net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "smtp"

const (
	defaultPort = 587
	sendTimeout = 30 * time.Second
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

// SMTP is the SMTP integration.
type SMTP struct {
	logger   zerolog.Logger
	events   events.Emitter
	host     string
	port     int
	username string
	password string
	from     string
	starttls bool
}

func New() *SMTP {
	return &SMTP{logger: zerolog.Nop()}
}

func (s *SMTP) Domain() string { return Domain }

func (s *SMTP) Setup(ctx context.Context, sc *integration.SetupContext) error {
	s.logger = sc.Logger
	s.events = sc.Events()
	s.logger.Info().Msg("Setting up SMTP integration")

	s.host = sc.Config.String("host")
	if s.host == "" {
		return &services.ConfigError{Domain: Domain, Key: "host"}
	}
	s.from = sc.Config.String("from")
	if s.from == "" {
		return &services.ConfigError{Domain: Domain, Key: "from"}
	}
	s.port = sc.Config.IntOr("port", defaultPort)
	s.username = sc.Config.String("username")
	s.password = sc.Config.String("password")
	s.starttls = sc.Config.BoolOr("starttls", true)

	return sc.Register("send_email", s.SendEmail, services.Schema{
		"to":      {Type: services.TypeString, Required: true, Description: "Recipient address or list of addresses"},
		"subject": {Type: services.TypeString},
		"body":    {Type: services.TypeString},
		"html":    {Type: services.TypeBoolean, Default: false},
	}, "Send an email via SMTP")
}

func (s *SMTP) SendEmail(ctx context.Context, req services.Request) (services.Response, error) {
	to := req.StringSlice("to")
	if len(to) == 0 {
		return nil, &services.FieldError{Field: "to"}
	}
	for _, addr := range to {
		if !strings.Contains(addr, "@") {
			return nil, &services.FieldError{Field: "to", Reason: "invalid email address: " + addr}
		}
	}
	subject := req.String("subject")

	msg, err := buildMessage(s.from, to, subject, req.String("body"), req.BoolOr("html", false))
	if err != nil {
		return nil, err
	}

	s.logger.Info().Strs("to", to).Str("subject", subject).Msg("Sending email")
	if err := s.send(ctx, to, msg); err != nil {
		s.logger.Error().Err(err).Strs("to", to).Msg("Failed to send email")
		return nil, &services.UpstreamError{Service: Domain, Err: err}
	}

	s.events.Emit("smtp.email_sent", map[string]any{"to": to, "subject": subject})
	return services.OK(map[string]any{
		"status":    "sent",
		"recipient": strings.Join(to, ", "),
	}), nil
}

// buildMessage renders the message headers and body. Header values must not
// contain line breaks; the subject is RFC 2047 encoded when it is not plain ASCII.
func buildMessage(from string, to []string, subject, body string, html bool) ([]byte, error) {
	if err := checkHeader("from", from); err != nil {
		return nil, err
	}
	for _, addr := range to {
		if err := checkHeader("to", addr); err != nil {
			return nil, err
		}
	}
	if err := checkHeader("subject", subject); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	if html {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	b.WriteString("\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String()), nil
}

func checkHeader(field, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return &services.FieldError{Field: field, Reason: "must not contain line breaks"}
	}
	return nil
}

// send runs one SMTP transaction. It upgrades with STARTTLS when offered and
// authenticates when a username is configured.
func (s *SMTP) send(ctx context.Context, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := netsmtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok && s.starttls {
		if err := c.StartTLS(&tls.Config{ServerName: s.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.username != "" {
		if err := c.Auth(netsmtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(s.from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
