package syslog

import (
	"sync"

	"github.com/rs/zerolog"
)

type Logger struct {
	mu       sync.RWMutex
	zlog     *zerolog.Logger
	hostname string
	disabled bool
}

// LogEntry represents a structured log entry.
type LogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Fields  map[string]any `json:"fields,omitempty"`
	logger  *Logger        `json:"-"`
}
