//go:build !linux

package daemon

import (
	"errors"
	"net"
)

func peerCred(net.Conn) (peerCredentials, error) {
	return peerCredentials{}, errors.New("peer credentials are not available on this platform")
}
