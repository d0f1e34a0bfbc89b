//go:build linux

package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	polkitBus       = "org.freedesktop.PolicyKit1"
	polkitPath      = "/org/freedesktop/PolicyKit1/Authority"
	polkitCheckAuth = "org.freedesktop.PolicyKit1.Authority.CheckAuthorization"
)

type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

func polkitCheck(ctx context.Context, cred peerCredentials, action string) (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("system bus: %w", err)
	}

	start, err := processStartTime(cred.PID)
	if err != nil {
		return false, err
	}

	subject := polkitSubject{
		Kind: "unix-process",
		Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(uint32(cred.PID)),
			"start-time": dbus.MakeVariant(start),
			"uid":        dbus.MakeVariant(int32(cred.UID)),
		},
	}

	var result polkitResult
	err = conn.Object(polkitBus, polkitPath).CallWithContext(ctx, polkitCheckAuth, 0,
		subject, action, map[string]string{}, uint32(0), "").Store(&result)
	if err != nil {
		return false, err
	}
	return result.IsAuthorized, nil
}

// processStartTime reads field 22 of /proc/<pid>/stat, the start time in
// clock ticks since boot.
func processStartTime(pid int32) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	// comm may contain spaces and parentheses; fields resume after the last ')'.
	s := string(data)
	end := strings.LastIndexByte(s, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(s[end+1:])
	// fields[0] is field 3 (state).
	if len(fields) < 20 {
		return 0, fmt.Errorf("short stat for pid %d", pid)
	}
	return strconv.ParseUint(fields[19], 10, 64)
}
