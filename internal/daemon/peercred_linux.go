//go:build linux

package daemon

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func peerCred(conn net.Conn) (peerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return peerCredentials{}, fmt.Errorf("not a unix socket: %T", conn)
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return peerCredentials{}, err
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return peerCredentials{}, err
	}
	if credErr != nil {
		return peerCredentials{}, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return peerCredentials{UID: cred.Uid, PID: cred.Pid}, nil
}
