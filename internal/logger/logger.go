// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the configured zerolog.Logger and its output files.
type Logger struct {
	zl       zerolog.Logger
	closers  []io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string `mapstructure:"level"` // debug, info, warn, error
	File      string `mapstructure:"file"`
	Console   bool   `mapstructure:"console"`
	Pretty    bool   `mapstructure:"pretty"`
	Redaction bool   `mapstructure:"redaction"`
	MaxSize   int    `mapstructure:"max_size"` // MB, 0 disables rotation
	MaxAge    int    `mapstructure:"max_age"`  // days
	Compress  bool   `mapstructure:"compress"`
	AuditFile string `mapstructure:"audit_file"` // empty disables the audit log
}

// DefaultConfig returns the logging defaults used when no file is configured.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}

// New builds a logger writing to the console, a file, or both. An unknown
// level falls back to info. The result also becomes the zerolog global logger.
func New(cfg Config) (*Logger, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with console output sent to console instead of stdout.
func NewWithWriter(cfg Config, console io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	var writers []io.Writer

	if cfg.Console {
		var w io.Writer = console
		if cfg.Pretty {
			w = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
		}
		writers = append(writers, w)
	}

	if cfg.File != "" {
		fw, err := openFile(cfg)
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, fw)
		writers = append(writers, fw)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = console
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		l.redactor = NewRedactor()
		out = l.redactor.Wrap(out)
	}

	l.zl = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = l.zl
	return l, nil
}

func openFile(cfg Config) (io.WriteCloser, error) {
	if cfg.MaxSize > 0 {
		return NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Component returns a child logger tagged with component.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zl.With().Str("component", name).Logger()
}

// Close closes any open log files.
func (l *Logger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}
