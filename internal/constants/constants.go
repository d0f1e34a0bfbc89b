package constants

import "time"

// Version is set by the binaries at startup.
var Version = "v0.0.0"

const (
	ServiceName        = "fadcrypt-daemon"
	ServiceDisplayName = "FadCrypt Daemon"
	ServiceDescription = "Privileged file lock helper for FadCrypt"

	DefaultHelperTimeout      = 30 * time.Second
	DefaultDecisionTimeout    = 10 * time.Second
	DefaultMonitorStopTimeout = 5 * time.Second
	DefaultClientTimeout      = 5 * time.Second
	DefaultMaxFrameSize       = 1 << 20

	SocketMode = 0o666

	// ReadBufferSize is the fanotify read buffer; several events fit per read.
	ReadBufferSize = 64 * 1024

	ElevatedTaskPrefix = "FadCrypt"
)
