//go:build windows

package syslog

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows/svc/eventlog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const eventSourceName = "FadCryptDaemon"

// SetServiceLogger routes output to the Windows Event Log, falling back to a
// rotated file under ProgramData when the event source cannot be opened.
func (l *Logger) SetServiceLogger(logFile string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = eventlog.InstallAsEventCreate(
		eventSourceName,
		eventlog.Info|eventlog.Warning|eventlog.Error,
	)

	evl, err := eventlog.Open(eventSourceName)
	if err == nil {
		zlogger := newZerolog(&LogWriter{logger: evl}).Level(l.zlog.GetLevel())
		l.zlog = &zlogger
		l.zlog.Info().Msg("Service logger successfully added for Windows Event Log")
		return nil
	}

	if logFile == "" {
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		logFile = filepath.Join(programData, "FadCrypt", "daemon.log")
	}
	_ = os.MkdirAll(filepath.Dir(logFile), 0o755)

	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}

	zlogger := newZerolog(rotator).Level(l.zlog.GetLevel())
	l.zlog = &zlogger

	l.zlog.Warn().Err(err).Msg("Windows Event Log unavailable; falling back to file logging")
	return nil
}
