package logger

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

// Options overrides the environment based defaults for every logger created
// afterwards.
type Options struct {
	// Level is a zerolog level name. Empty keeps APP_LOG_LEVEL.
	Level string `json:"level"`
	// Format is "json" or "console". Empty keeps APP_ENV.
	Format string `json:"format"`
	// File also writes the logs to a rotating file when set.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

func (o Options) Validate() error {
	if o.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(o.Level)); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	switch o.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", o.Format)
	}
	return nil
}

var (
	optsMu sync.RWMutex
	opts   Options
	file   io.Writer
)

// Configure installs o. Loggers created before the call keep their settings.
func Configure(o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	optsMu.Lock()
	defer optsMu.Unlock()
	opts = o
	file = nil
	if o.File != "" {
		size := o.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		file = &lumberjack.Logger{Filename: o.File, MaxSize: size, MaxBackups: o.MaxBackups}
	}
	return nil
}

func current() (Options, io.Writer) {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts, file
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger writing to stdout. APP_ENV=dev
// switches to the human readable console writer. All logs carry the provided
// component field.
func NewZerologLogger(component string) Logger {
	o, f := current()
	var out io.Writer = os.Stdout
	console := o.Format == "console" || (o.Format == "" && strings.ToLower(os.Getenv("APP_ENV")) == "dev")
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if f != nil {
		out = zerolog.MultiLevelWriter(out, f)
	}
	return NewZerologLoggerTo(out, component)
}

// NewZerologLoggerTo builds a logger on an arbitrary writer.
func NewZerologLoggerTo(w io.Writer, component string) *ZerologLogger {
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger().Level(levelFromEnv())
	return &ZerologLogger{log: z}
}

func levelFromEnv() zerolog.Level {
	name := os.Getenv("APP_LOG_LEVEL")
	if o, _ := current(); o.Level != "" {
		name = o.Level
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.DebugLevel
	}
	return lvl
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Infow(msg string, fields map[string]any) {
	l.log.Info().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
