package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/constants"
)

var ErrPeerNotAllowed = errors.New("peer is not allowed")

type peerCredentials struct {
	UID uint32
	PID int32
}

// TrustPolicy decides whether a connected peer may issue commands.
type TrustPolicy interface {
	Authorize(conn net.Conn) error
}

// AnyLocal accepts every peer that can reach the socket. With the socket at
// mode 0666 that is every local user.
type AnyLocal struct{}

func (AnyLocal) Authorize(net.Conn) error { return nil }

// PeerUID accepts root and the listed uids, identified from the socket's
// peer credentials.
type PeerUID struct {
	Allowed []uint32
}

func (p PeerUID) Authorize(conn net.Conn) error {
	cred, err := peerCred(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerNotAllowed, err)
	}
	if cred.UID == 0 || slices.Contains(p.Allowed, cred.UID) {
		return nil
	}
	return fmt.Errorf("%w: uid %d", ErrPeerNotAllowed, cred.UID)
}

// Polkit asks the polkit authority whether the peer process holds Action.
// Root is always accepted and no authentication dialog is ever raised.
type Polkit struct {
	Action  string
	Timeout time.Duration

	check func(ctx context.Context, cred peerCredentials, action string) (bool, error)
}

func (p Polkit) Authorize(conn net.Conn) error {
	cred, err := peerCred(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerNotAllowed, err)
	}
	if cred.UID == 0 {
		return nil
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultClientTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	check := p.check
	if check == nil {
		check = polkitCheck
	}
	ok, err := check(ctx, cred, p.Action)
	if err != nil {
		return fmt.Errorf("%w: polkit: %v", ErrPeerNotAllowed, err)
	}
	if !ok {
		return fmt.Errorf("%w: uid %d pid %d lacks %s", ErrPeerNotAllowed, cred.UID, cred.PID, p.Action)
	}
	return nil
}

func NewTrustPolicy(cfg config.TrustConfig) TrustPolicy {
	switch cfg.Mode {
	case config.TrustUID:
		return PeerUID{Allowed: cfg.AllowedUIDs}
	case config.TrustPolkit:
		return Polkit{Action: cfg.PolkitAction}
	}
	return AnyLocal{}
}
