//go:build windows

package daemon

import (
	"errors"

	"golang.org/x/sys/windows"
)

func requirePrivileges() error {
	if !windows.GetCurrentProcessToken().IsElevated() {
		return errors.New("daemon must run elevated")
	}
	return nil
}
