//go:build !windows

package daemon

import (
	"fmt"
	"os"
)

func requirePrivileges() error {
	if euid := os.Geteuid(); euid != 0 {
		return fmt.Errorf("daemon must run as root (euid %d)", euid)
	}
	return nil
}
