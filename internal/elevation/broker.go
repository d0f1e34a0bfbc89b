package elevation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fadcrypt/fadcrypt/internal/client"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

// Broker runs privileged operations. File operations go to the daemon when
// it answers; everything else, and file operations without a daemon, run
// the helper through Preferred, falling back only when Preferred reports
// ErrFacilityUnavailable.
type Broker struct {
	Preferred Strategy
	Fallback  Strategy
	Daemon    *client.Client
}

func NewBroker(helperPath string, daemon *client.Client) *Broker {
	preferred, fallback := DefaultStrategies(helperPath)
	return &Broker{Preferred: preferred, Fallback: fallback, Daemon: daemon}
}

func (b *Broker) ExecuteElevated(ctx context.Context, name string, args ...string) error {
	op := Operation{Name: name, Args: args}

	if b.Preferred != nil {
		err := b.Preferred.Execute(ctx, op)
		if err == nil || !errors.Is(err, ErrFacilityUnavailable) {
			return err
		}
		syslog.L.Info().WithMessage("preferred elevation unavailable, falling back").
			WithField("strategy", b.Preferred.Name()).
			WithField("error", err.Error()).Write()
	}

	if b.Fallback == nil {
		return fmt.Errorf("%w: no fallback strategy", ErrFacilityUnavailable)
	}
	return b.Fallback.Execute(ctx, op)
}

// daemonAvailable reports whether file operations should go to the daemon.
// Only an unreachable socket selects the helper; a daemon that is busy past
// the client's limits is an error, not a reason to elevate a second way.
func (b *Broker) daemonAvailable(ctx context.Context) (bool, error) {
	if b.Daemon == nil {
		return false, nil
	}
	resp, err := b.Daemon.Ping(ctx)
	switch {
	case errors.Is(err, client.ErrDaemonUnavailable):
		return false, nil
	case err != nil:
		return false, err
	}
	return resp.Success, nil
}

func responseError(resp protocol.Response) error {
	if resp.Success {
		return nil
	}
	msg := resp.Error
	if len(resp.Errors) > 0 {
		if msg != "" {
			msg += ": "
		}
		msg += strings.Join(resp.Errors, "; ")
	}
	return fmt.Errorf("%w: %s", protocol.ErrPrivilegedOperation, msg)
}

func (b *Broker) ProtectFiles(ctx context.Context, paths ...string) error {
	ok, err := b.daemonAvailable(ctx)
	if err != nil {
		return err
	}
	if ok {
		resp, err := b.Daemon.Lock(ctx, paths...)
		if err != nil {
			return err
		}
		return responseError(resp)
	}
	return b.ExecuteElevated(ctx, OpProtectFiles, paths...)
}

func (b *Broker) UnprotectFiles(ctx context.Context, paths ...string) error {
	ok, err := b.daemonAvailable(ctx)
	if err != nil {
		return err
	}
	if ok {
		resp, err := b.Daemon.Unlock(ctx, paths...)
		if err != nil {
			return err
		}
		return responseError(resp)
	}
	return b.ExecuteElevated(ctx, OpUnprotectFiles, paths...)
}

func (b *Broker) DisableSystemTools(ctx context.Context) error {
	return b.ExecuteElevated(ctx, OpDisableTools)
}

func (b *Broker) EnableSystemTools(ctx context.Context) error {
	return b.ExecuteElevated(ctx, OpEnableTools)
}

// InstallDaemon installs and starts the daemon service once, after which
// file operations no longer need the elevation facility.
func (b *Broker) InstallDaemon(ctx context.Context) error {
	return b.ExecuteElevated(ctx, OpInstallDaemon)
}
