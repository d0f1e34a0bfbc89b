//go:build !windows

package constants

const (
	RuntimeDir         = "/run/fadcrypt"
	ControlSocketPath  = RuntimeDir + "/elevated.sock"
	DecisionSocketPath = RuntimeDir + "/fanotify.sock"
	LockFilePath       = RuntimeDir + "/daemon.lock"
	ConfigFilePath     = "/etc/fadcrypt/daemon.toml"
	LogFilePath        = "/var/log/fadcrypt-daemon.log"
	HelperBinaryPath   = "/usr/libexec/fadcrypt/fadcrypt-helper"
	DaemonBinaryPath   = "/usr/bin/fadcrypt-daemon"
)
