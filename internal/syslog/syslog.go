package syslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Global logger instance.
var L *Logger

func init() {
	zlogger := newZerolog(os.Stderr)
	hostname, _ := os.Hostname()
	L = &Logger{zlog: &zlogger, hostname: hostname}
}

func formatCaller(i any) string {
	var c string
	if cc, ok := i.(string); ok {
		c = cc
	}
	if c == "" {
		return ""
	}

	parts := strings.Split(c, "/")
	if len(parts) >= 2 {
		return fmt.Sprintf("%s/%s", parts[len(parts)-2], parts[len(parts)-1])
	}
	return filepath.Base(c)
}

func newZerolog(out io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = out
		w.NoColor = true
		w.FormatCaller = formatCaller
	})).With().
		CallerWithSkipFrameCount(3).
		Timestamp().
		Logger()
}

// SetOutput replaces the sink of the logger. The default sink is stderr.
func (l *Logger) SetOutput(out io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	zlogger := newZerolog(out).Level(l.zlog.GetLevel())
	l.zlog = &zlogger
}

// SetLevel accepts debug, info, warn or error. Unknown levels fall back to info.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zlogger := l.zlog.Level(lvl)
	l.zlog = &zlogger
}

func (l *Logger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = true
}

func (l *Logger) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = false
}

func (l *Logger) newEntry(level string, err error) *LogEntry {
	return &LogEntry{
		Level:  level,
		Err:    err,
		Fields: make(map[string]any),
		logger: l,
	}
}

// Error creates a new error-level LogEntry.
func (l *Logger) Error(err error) *LogEntry {
	return l.newEntry("error", err)
}

// Warn creates a new warning-level LogEntry.
func (l *Logger) Warn() *LogEntry {
	return l.newEntry("warn", nil)
}

// Info creates a new info-level LogEntry.
func (l *Logger) Info() *LogEntry {
	return l.newEntry("info", nil)
}

// Debug creates a new debug-level LogEntry.
func (l *Logger) Debug() *LogEntry {
	return l.newEntry("debug", nil)
}

// WithMessage sets the log message.
func (e *LogEntry) WithMessage(msg string) *LogEntry {
	e.Message = msg
	return e
}

// WithField adds one key-value pair to the LogEntry.
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	e.Fields[key] = value
	return e
}

// WithFields adds multiple key-value pairs to the LogEntry.
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

func (e *LogEntry) Write() {
	e.logger.mu.RLock()
	defer e.logger.mu.RUnlock()

	if e.logger.disabled {
		return
	}

	if _, ok := e.Fields["hostname"]; !ok && e.logger.hostname != "" {
		e.Fields["hostname"] = e.logger.hostname
	}

	switch e.Level {
	case "info":
		e.logger.zlog.Info().Fields(e.Fields).Msg(e.Message)
	case "debug":
		e.logger.zlog.Debug().Fields(e.Fields).Msg(e.Message)
	case "warn":
		e.logger.zlog.Warn().Fields(e.Fields).Msg(e.Message)
	case "error":
		e.logger.zlog.Error().Err(e.Err).Fields(e.Fields).Msg(e.Message)
	default:
		e.logger.zlog.Info().Fields(e.Fields).Msg(e.Message)
	}
}
