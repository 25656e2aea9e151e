package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor masks credentials in log lines. Integration configs carry API
// keys, bot tokens and passwords which must never reach a log sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI and Anthropic keys
			regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_-]{20,}`),
			// Google API keys (gemini)
			regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
			regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`),
			regexp.MustCompile(`Basic\s+[A-Za-z0-9+/=]{8,}`),
			// Telegram bot tokens, also inside bot API URLs
			regexp.MustCompile(`\d{8,10}:[A-Za-z0-9_-]{30,}`),
			// Key/value pairs in JSON, query strings and messages
			regexp.MustCompile(`(?i)"(password|api_key|api_token|access_token|client_secret|bot_token|secret|shared_secret)"\s*:\s*"[^"]*"`),
			regexp.MustCompile(`(?i)\b(password|api_key|api_token|access_token|client_secret|secret)=[^\s&"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every match in s. Key/value matches keep the key.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			sub := re.FindStringSubmatch(m)
			if len(sub) < 2 || sub[1] == "" {
				return redacted
			}
			if m[0] == '"' {
				return `"` + sub[1] + `":"` + redacted + `"`
			}
			return sub[1] + "=" + redacted
		})
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{w: w, r: r}
}

type redactingWriter struct {
	w io.Writer
	r *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (rw *redactingWriter) Write(p []byte) (int, error) {
	if _, err := rw.w.Write([]byte(rw.r.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
