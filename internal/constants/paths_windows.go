//go:build windows

package constants

import (
	"os"
	"path/filepath"
)

var (
	DataDir            = filepath.Join(programData(), "FadCrypt")
	RuntimeDir         = DataDir
	ControlSocketPath  = filepath.Join(DataDir, "elevated.sock")
	DecisionSocketPath = filepath.Join(DataDir, "fanotify.sock")
	LockFilePath       = filepath.Join(DataDir, "daemon.lock")
	ConfigFilePath     = filepath.Join(DataDir, "daemon.toml")
	LogFilePath        = filepath.Join(DataDir, "daemon.log")
	HelperBinaryPath   = filepath.Join(programFiles(), "FadCrypt", "fadcrypt-helper.exe")
	DaemonBinaryPath   = filepath.Join(programFiles(), "FadCrypt", "fadcrypt-daemon.exe")
)

func programData() string {
	if dir := os.Getenv("ProgramData"); dir != "" {
		return dir
	}
	return `C:\ProgramData`
}

func programFiles() string {
	if dir := os.Getenv("ProgramFiles"); dir != "" {
		return dir
	}
	return `C:\Program Files`
}
