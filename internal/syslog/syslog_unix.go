//go:build unix

package syslog

import (
	"io"
	"log/syslog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetServiceLogger routes output to the system syslog and, when logFile is
// not empty, to a rotated log file as well. A missing syslog daemon is not
// fatal: output then goes to the file (or stderr) only.
func (l *Logger) SetServiceLogger(logFile string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var outputs []io.Writer

	sysWriter, sysErr := syslog.New(syslog.LOG_INFO|syslog.LOG_LOCAL7, "fadcrypt")
	if sysErr == nil {
		outputs = append(outputs, &LogWriter{logger: sysWriter})
	}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			outputs = append(outputs, &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     30, // days
				Compress:   true,
			})
		}
	}

	if len(outputs) == 0 {
		outputs = append(outputs, os.Stderr)
	}

	zlogger := newZerolog(io.MultiWriter(outputs...)).Level(l.zlog.GetLevel())
	l.zlog = &zlogger

	if sysErr != nil {
		l.zlog.Warn().Err(sysErr).Msg("syslog unavailable; logging to file only")
		return sysErr
	}

	l.zlog.Info().Str("file", logFile).Msg("Service logger successfully added for syslog")
	return nil
}
