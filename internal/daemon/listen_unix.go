//go:build !windows

package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/activation"
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

// Listen binds the control socket. A socket passed in by systemd socket
// activation is used as is.
func (s *Server) Listen() error {
	listeners, err := activation.Listeners()
	if err == nil && len(listeners) > 0 && listeners[0] != nil {
		for _, extra := range listeners[1:] {
			if extra != nil {
				extra.Close()
			}
		}
		s.ln = listeners[0]
		syslog.L.Info().WithMessage("using socket from systemd activation").
			WithField("socket", s.ln.Addr().String()).Write()
		return nil
	}

	return s.listenPath(s.cfg.ControlSocket)
}

func (s *Server) listenPath(socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	_ = os.RemoveAll(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, constants.SocketMode); err != nil {
		ln.Close()
		return fmt.Errorf("failed to chmod %s: %w", socketPath, err)
	}

	s.ln = ln
	syslog.L.Info().WithMessage("control socket listening").
		WithField("socket", socketPath).Write()
	return nil
}

func notifyReady() {
	if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		syslog.L.Warn().WithMessage("sd_notify failed").WithField("error", err.Error()).Write()
	} else if ok {
		syslog.L.Debug().WithMessage("notified systemd readiness").Write()
	}
}

func notifyStopping() {
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
}
