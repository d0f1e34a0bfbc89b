//go:build !windows

package helper

import "os"

func isElevated() bool {
	return os.Geteuid() == 0
}
