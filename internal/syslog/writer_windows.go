//go:build windows

package syslog

import (
	"os"
	"strings"

	"golang.org/x/sys/windows/svc/eventlog"
)

// LogWriter sends formatted log output to the Windows Event Log.
type LogWriter struct {
	logger *eventlog.Log
}

func (ew *LogWriter) Write(p []byte) (n int, err error) {
	if ew.logger == nil {
		return os.Stdout.Write(p)
	}

	message := string(p)
	switch {
	case strings.Contains(message, " ERR "):
		err = ew.logger.Error(3, message)
	case strings.Contains(message, " WRN "):
		err = ew.logger.Warning(2, message)
	default:
		err = ew.logger.Info(1, message)
	}
	return len(p), err
}
