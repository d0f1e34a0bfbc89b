//go:build unix

package syslog

import (
	"log/syslog"
	"os"
	"strings"
)

type LogWriter struct {
	logger *syslog.Writer
}

// Write picks the syslog severity from the level tag the console writer
// puts in front of every line.
func (sw *LogWriter) Write(p []byte) (n int, err error) {
	if sw.logger == nil {
		return os.Stdout.Write(p)
	}

	message := string(p)
	switch {
	case strings.Contains(message, " ERR "):
		err = sw.logger.Err(message)
	case strings.Contains(message, " WRN "):
		err = sw.logger.Warning(message)
	case strings.Contains(message, " DBG "):
		err = sw.logger.Debug(message)
	default:
		err = sw.logger.Info(message)
	}
	return len(p), err
}
