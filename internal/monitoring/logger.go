// Package monitoring owns the process-wide structured logger.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects log level, console format and an optional rotated log file.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level"`
	// Format is "console" for human readable output or "json".
	Format string `json:"format"`
	// File, when set, also writes JSON lines to this path with rotation.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.File != "" && c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
}

// Validate checks the level and format names.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q: expected console or json", c.Format)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Setup replaces the process logger according to cfg. The returned closer
// releases the log file, if any.
func Setup(cfg Config) (io.Closer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zerolog.ParseLevel(strings.ToLower(cfg.Level))

	var console io.Writer = os.Stdout
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, lj)
		closer = lj
	}

	SetLogger(zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).With().Timestamp().Logger())
	return closer, nil
}

// SetLogger replaces the process logger. Tests use it to capture or mute
// output; zerolog.Nop() silences everything.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// Logger returns the process logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with the component name. Loggers
// are captured at construction, so call Setup before building components.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
